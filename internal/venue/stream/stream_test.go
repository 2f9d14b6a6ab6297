package stream

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/helix/internal/domain"
)

// tickServer accepts one WebSocket connection and pushes the payload
// immediately on upgrade, before any subscribe command arrives.
func tickServer(payload string) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestHandlerRegisteredBeforeConnectSeesFirstTick(t *testing.T) {
	payload := `{"type":"tick","data":{"symbol":"BTC-USD","bid":"9.5","ask":"10.5","last":"10","volume":"3","timestamp":"2025-06-01T12:00:00Z"}}`
	srv := tickServer(payload)
	defer srv.Close()

	c := New("ws"+strings.TrimPrefix(srv.URL, "http"), slog.Default())
	defer c.Close()

	got := make(chan domain.Tick, 1)
	c.OnTick(func(tk domain.Tick) {
		select {
		case got <- tk:
		default:
		}
	})

	require.NoError(t, c.Connect(context.Background()))

	select {
	case tk := <-got:
		require.Equal(t, "BTC-USD", tk.Symbol)
		require.True(t, tk.Last.Equal(decimal.NewFromInt(10)))
	case <-time.After(2 * time.Second):
		t.Fatal("tick sent before subscribe never reached the handler")
	}
}
