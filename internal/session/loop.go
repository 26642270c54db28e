package session

import (
	"context"
	"time"
)

// DefaultTickInterval paces Loop when no interval is given.
const DefaultTickInterval = 16 * time.Millisecond

// Ticker is anything Loop can drive. Client and Server implement it.
type Ticker interface {
	Tick()
}

// TickFunc adapts a function to Ticker, for work that has to run on the
// session goroutine between engine drains.
type TickFunc func()

func (f TickFunc) Tick() { f() }

// Loop ticks every ticker in order once per interval on the calling
// goroutine until ctx ends, which it returns as ctx.Err(). Pass a server
// before the clients that share its process so one pass settles both.
func Loop(ctx context.Context, interval time.Duration, tickers ...Ticker) error {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, t := range tickers {
			t.Tick()
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
