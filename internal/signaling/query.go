package signaling

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
)

const maxQueryPayload = 64 * 1024

// URL returns the WebSocket endpoint of the server at address:port.
func URL(address string, port uint16) string {
	return "ws://" + net.JoinHostPort(address, strconv.Itoa(int(port))) + "/ws"
}

// Query fetches the query payload of the server at address:port without
// opening a session.
func Query(ctx context.Context, address string, port uint16) ([]byte, error) {
	url := "http://" + net.JoinHostPort(address, strconv.Itoa(int(port))) + "/query"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query %s: %s", url, resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxQueryPayload))
}
