package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWSURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://127.0.0.1:8080", "ws://127.0.0.1:8080/ws", false},
		{"https://np.example.com/", "wss://np.example.com/ws", false},
		{"ws://localhost:9000/other", "ws://localhost:9000/ws", false},
		{"ftp://host", "", true},
		{"http://", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := WSURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWSClient_ConnectAndRead(t *testing.T) {
	gotAuth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"snapshot","seq":1,"payload":{"sessions":{}}}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	c := NewWSClient("ws"+strings.TrimPrefix(srv.URL, "http"), "tok")
	ctx := context.Background()

	require.IsType(t, ConnectedMsg{}, c.Connect(ctx)())
	assert.Equal(t, "Bearer tok", <-gotAuth)

	msg := c.ReadFrame()()
	require.IsType(t, FrameMsg{}, msg)
	f := msg.(FrameMsg).Frame
	assert.Equal(t, "snapshot", string(f.Type))
	assert.Equal(t, uint64(1), f.Seq)

	c.Close()
	dis, ok := c.ReadFrame()().(DisconnectedMsg)
	require.True(t, ok)
	assert.Error(t, dis.Err)
}

func TestWSClient_DialFailureBacksOff(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	c := NewWSClient(url, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, ok := c.Connect(ctx)().(DisconnectedMsg)
	require.True(t, ok)
	second := c.Connect(ctx)().(DisconnectedMsg)
	assert.Equal(t, reconnectBaseDelay, first.Retry)
	assert.Equal(t, 2*reconnectBaseDelay, second.Retry)
}
