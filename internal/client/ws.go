package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	handshakeTimeout   = 10 * time.Second
)

// WSClient follows the server's session feed.
type WSClient struct {
	url   string
	token string

	mu    sync.Mutex
	conn  *websocket.Conn
	delay time.Duration
}

// NewWSClient creates a client for a WebSocket URL such as
// "ws://127.0.0.1:8080/ws".
func NewWSClient(url, token string) *WSClient {
	return &WSClient{url: url, token: token, delay: reconnectBaseDelay}
}

// ConnectedMsg is sent when the WebSocket connects.
type ConnectedMsg struct{}

// DisconnectedMsg is sent when a dial fails or the connection drops.
type DisconnectedMsg struct {
	Err   error
	Retry time.Duration
}

// FrameMsg delivers one frame read from the feed.
type FrameMsg struct{ Frame Frame }

// Connect returns a command that dials once.
func (c *WSClient) Connect(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
		header := http.Header{}
		if c.token != "" {
			header.Set("Authorization", "Bearer "+c.token)
		}
		conn, _, err := dialer.DialContext(ctx, c.url, header)
		if err != nil {
			return DisconnectedMsg{Err: err, Retry: c.backoff()}
		}

		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.conn = conn
		c.delay = reconnectBaseDelay
		c.mu.Unlock()
		return ConnectedMsg{}
	}
}

// Reconnect waits out the retry delay and dials again.
func (c *WSClient) Reconnect(ctx context.Context, after time.Duration) tea.Cmd {
	return tea.Tick(after, func(time.Time) tea.Msg {
		return c.Connect(ctx)()
	})
}

// ReadFrame returns a command that reads the next frame. Frames that fail
// to decode are skipped.
func (c *WSClient) ReadFrame() tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return DisconnectedMsg{Err: fmt.Errorf("no connection"), Retry: c.backoff()}
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				c.mu.Lock()
				if c.conn == conn {
					c.conn = nil
				}
				c.mu.Unlock()
				conn.Close()
				return DisconnectedMsg{Err: err, Retry: c.backoff()}
			}
			var f Frame
			if err := json.Unmarshal(data, &f); err != nil {
				continue
			}
			return FrameMsg{Frame: f}
		}
	}
}

// Close drops the current connection.
func (c *WSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.conn.Close()
		c.conn = nil
	}
}

func (c *WSClient) backoff() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.delay
	c.delay = min(c.delay*2, reconnectMaxDelay)
	return d
}

// WSURL derives the feed URL from an HTTP base URL.
func WSURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server url %q has no host", baseURL)
	}
	u.Path = "/ws"
	return u.String(), nil
}
