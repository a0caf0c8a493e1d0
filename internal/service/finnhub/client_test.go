package finnhub

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

	"RegimeDesk/pkg/logger"
)

func TestDecode(t *testing.T) {
	ticks, err := decode([]byte(`{"type":"trade","data":[
		{"s":"QQQ","p":455.12,"v":10,"t":1741380000123},
		{"s":"QQQ","p":455.40,"v":3,"t":1741380001500},
		{"s":"SPY","p":560.01,"v":1,"t":1741380000900}]}`))
	require.NoError(t, err)
	require.Len(t, ticks, 2)
	assert.Equal(t, "QQQ", ticks[0].Symbol)
	assert.Equal(t, 455.40, ticks[0].Price)
	assert.Equal(t, int64(1741380001), ticks[0].Timestamp)
	assert.Equal(t, "SPY", ticks[1].Symbol)

	ticks, err = decode([]byte(`{"type":"ping"}`))
	assert.NoError(t, err)
	assert.Empty(t, ticks)

	_, err = decode([]byte(`{"type":"error","msg":"Invalid API key"}`))
	assert.ErrorContains(t, err, "Invalid API key")

	_, err = decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestClientStreamsTrades(t *testing.T) {
	subscribed := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "k3y" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub subscription
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub.Symbol
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"trade","data":[{"s":"QQQ","p":455.12,"v":10,"t":1741380000123}]}`))
		// hold the socket open until the client leaves
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	c := New(Config{
		APIKey:  "k3y",
		URL:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		Symbols: []string{"QQQ"},
	}, logger.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	require.True(t, c.IsConnected())
	require.NoError(t, c.Subscribe(ctx))
	assert.Equal(t, "QQQ", <-subscribed)

	ticks, _ := c.Read(ctx)
	select {
	case tick := <-ticks:
		assert.Equal(t, 455.12, tick.Price)
	case <-ctx.Done():
		t.Fatal("no tick received")
	}

	require.NoError(t, c.Close())
	assert.False(t, c.IsConnected())
}

func TestClientRejectsBadKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, logger.NewNop())
	assert.Error(t, c.Connect(context.Background()))
	assert.ErrorIs(t, c.Subscribe(context.Background()), errNotConnected)

	_, errs := c.Read(context.Background())
	assert.ErrorIs(t, <-errs, errNotConnected)
}
