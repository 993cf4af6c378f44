// Package transport connects the live session to the backend event stream
// over WebSocket.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ashureev/healdash/internal/live"
	"github.com/coder/websocket"
)

// DefaultReadLimit bounds a single frame. RESULT and TEST_RESULTS payloads
// can be far larger than the library default of 32 KiB.
const DefaultReadLimit = 4 << 20

// WSURL derives the event stream address from the backend base URL.
func WSURL(apiBase string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(apiBase))
	if err != nil {
		return "", fmt.Errorf("parse api url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported api url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("api url %q has no host", apiBase)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// Dialer opens WebSocket connections with coder/websocket.
type Dialer struct {
	HTTPClient *http.Client
	Header     http.Header
	ReadLimit  int64
}

// NewDialer creates a dialer with the default read limit.
func NewDialer() *Dialer {
	return &Dialer{ReadLimit: DefaultReadLimit}
}

// Dial implements live.Dialer.
func (d *Dialer) Dial(ctx context.Context, rawURL string) (live.Conn, error) {
	ws, resp, err := websocket.Dial(ctx, rawURL, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.Header,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	ws.SetReadLimit(limit)
	return &Conn{ws: ws}, nil
}

// Conn is one open event stream connection.
type Conn struct {
	ws *websocket.Conn
}

// Read returns the next text frame. Binary frames are skipped.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				slog.Debug("Event stream closed by server", "status", status)
			}
			return nil, err
		}
		if typ == websocket.MessageText {
			return data, nil
		}
		slog.Debug("Skipping binary frame", "size", len(data))
	}
}

// Close sends a normal closure.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "client closing")
}
