package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/1ureka/rakpeer/internal/config"
	"github.com/1ureka/rakpeer/internal/engine"
	"github.com/1ureka/rakpeer/internal/engine/loopback"
	"github.com/1ureka/rakpeer/internal/engine/rtc"
	"github.com/1ureka/rakpeer/internal/protocol"
	"github.com/1ureka/rakpeer/internal/session"
	"github.com/1ureka/rakpeer/internal/stats"
	"github.com/1ureka/rakpeer/internal/util"
)

const (
	serverName     = "rakpeer sample"
	reportInterval = 10 * time.Second
	stopMessage    = "server shutting down"
)

// ErrDisconnected is returned by RunClient when the server ends the session.
var ErrDisconnected = errors.New("disconnected")

func rtcConfig(cfg config.Config) rtc.Config {
	return rtc.Config{ICEServers: cfg.ICEServers}
}

func startConfig(cfg config.Config) engine.StartConfig {
	return engine.StartConfig{
		Address:        cfg.Address,
		Port:           uint16(cfg.Port),
		Password:       cfg.Password,
		MaxConnections: cfg.MaxConnections,
		Insecure:       cfg.Insecure,
	}
}

// summary keeps the host's combined statistics for the reporter goroutine,
// refreshed from the tick goroutine at most once per second.
type summary struct {
	srv  *session.Server
	last time.Time
	snap atomic.Pointer[stats.Statistics]
	live atomic.Bool
}

func (s *summary) Tick() {
	if time.Since(s.last) < time.Second {
		return
	}
	s.last = time.Now()

	var total stats.Statistics
	conns := s.srv.Connections()
	for i := range conns {
		total.Add(&conns[i].Statistics)
	}
	s.snap.Store(&total)
	s.live.Store(len(conns) > 0)
}

func (s *summary) source() (stats.Statistics, bool) {
	snap := s.snap.Load()
	if snap == nil {
		return stats.Statistics{}, false
	}
	return *snap, s.live.Load()
}

// RunHost starts a sample server on eng and serves until ctx ends.
func RunHost(ctx context.Context, cfg config.Config, eng engine.Server) error {
	srv := session.NewServer(eng)
	defer srv.Close()
	h := NewHost(srv, serverName)

	if r := srv.Start(startConfig(cfg)); r != engine.Started {
		return fmt.Errorf("failed to start server: %s", r)
	}
	defer srv.Stop(stopMessage)

	srv.SetQueryAllowed(true)
	h.Publish()

	address, port := srv.BoundAddress()
	util.LogSuccess("server listening on %s:%d (max %d connections)", address, port, cfg.MaxConnections)

	sum := &summary{srv: srv}
	stats.StartReporter(ctx, reportInterval, "[host]", sum.source)

	return quiet(session.Loop(ctx, cfg.TickInterval, srv, sum))
}

// RunClient connects a sample client on eng and runs until ctx ends or the
// session does. A session ended by the server yields ErrDisconnected.
func RunClient(ctx context.Context, cfg config.Config, eng engine.Client) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cli := session.NewClient(eng)
	defer cli.Close()
	g := NewGuest(cli, cfg.Name)

	var ended error
	g.OnDisconnected = func(reason protocol.DisconnectReason, message string) {
		ended = fmt.Errorf("%w: %s", ErrDisconnected, reason)
		cancel()
	}

	if r := cli.Connect(cfg.Address, uint16(cfg.Port), cfg.Password, cfg.Attempts); r != engine.Connecting {
		return fmt.Errorf("failed to connect: %s", r)
	}
	stats.StartReporter(ctx, reportInterval, "[client]", eng.Statistics)

	err := quiet(session.Loop(ctx, cfg.TickInterval, cli))
	if ended != nil {
		return ended
	}
	cli.Disconnect()
	return err
}

// RunLocal runs a server and one client in this process over the loopback
// engine, which exercises the whole session layer without a network.
func RunLocal(ctx context.Context, cfg config.Config) error {
	n := loopback.NewNetwork()
	srv := session.NewServer(n.NewServer())
	defer srv.Close()
	h := NewHost(srv, serverName)
	h.OnAccepted = func(p Player) {
		hostLog.Info("players: %d", len(h.Players()))
	}

	sc := startConfig(cfg)
	sc.Address = "127.0.0.1"
	if r := srv.Start(sc); r != engine.Started {
		return fmt.Errorf("failed to start server: %s", r)
	}
	srv.SetQueryAllowed(true)
	h.Publish()
	_, port := srv.BoundAddress()

	cli := session.NewClient(n.NewClient())
	defer cli.Close()
	NewGuest(cli, cfg.Name)
	if r := cli.Connect("127.0.0.1", port, cfg.Password, max(cfg.Attempts, 1)); r != engine.Connecting {
		return fmt.Errorf("failed to connect: %s", r)
	}

	return quiet(session.Loop(ctx, cfg.TickInterval, srv, cli))
}

// Query fetches and decodes the query response of an rtc server.
func Query(ctx context.Context, cfg config.Config) (ServerInfo, error) {
	data, err := rtc.Query(ctx, cfg.Address, uint16(cfg.Port))
	if err != nil {
		return ServerInfo{}, err
	}
	return DecodeServerInfo(data)
}

// Run dispatches cfg to the matching role.
func Run(ctx context.Context, cfg config.Config) error {
	if cfg.Transport == config.TransportLoopback {
		return RunLocal(ctx, cfg)
	}
	switch cfg.Role {
	case config.RoleHost:
		return RunHost(ctx, cfg, rtc.NewServer(rtcConfig(cfg)))
	case config.RoleClient:
		return RunClient(ctx, cfg, rtc.NewClient(rtcConfig(cfg)))
	}
	return fmt.Errorf("role %q cannot be run", cfg.Role)
}

// quiet maps the end of the caller's context to a clean exit.
func quiet(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
