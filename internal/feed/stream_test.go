package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// streamServer is a minimal websocket feed: it accepts one connection,
// records the subscription message, and pushes the given payloads.
func streamServer(t *testing.T, payloads []string, subscribed chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subscribed <- string(msg)

		for _, p := range payloads {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(p)); err != nil {
				return
			}
		}

		// Keep the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStreamClientDeliversEvents(t *testing.T) {
	subscribed := make(chan string, 1)
	srv := streamServer(t, []string{
		`{"success":true,"message":"subscribed"}`,
		`{"address":"tokenA","liquidityUsd":1000,"symbol":"TKA"}`,
	}, subscribed)
	defer srv.Close()

	client, err := NewStreamClient(context.Background(), wsURL(srv), nil, nil)
	require.NoError(t, err)
	defer client.Close()

	var sub map[string]string
	require.NoError(t, json.Unmarshal([]byte(<-subscribed), &sub))
	assert.Equal(t, "subscribeNewToken", sub["method"])

	select {
	case ev := <-client.Events():
		require.NotNil(t, ev)
		assert.Equal(t, "tokenA", ev.Address)
		assert.Equal(t, "TKA", ev.Symbol)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream event")
	}
}

func TestStreamClientSkipsIneligibleMessages(t *testing.T) {
	subscribed := make(chan string, 1)
	srv := streamServer(t, []string{
		`{"address":"noliq"}`,
		`{"address":"tokenB","liquidityUsd":500}`,
	}, subscribed)
	defer srv.Close()

	client, err := NewStreamClient(context.Background(), wsURL(srv), nil, nil)
	require.NoError(t, err)
	defer client.Close()
	<-subscribed

	select {
	case ev := <-client.Events():
		assert.Equal(t, "tokenB", ev.Address)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream event")
	}
}

func TestStreamClientCloseIsIdempotent(t *testing.T) {
	subscribed := make(chan string, 1)
	srv := streamServer(t, nil, subscribed)
	defer srv.Close()

	client, err := NewStreamClient(context.Background(), wsURL(srv), nil, nil)
	require.NoError(t, err)
	<-subscribed

	client.Close()
	client.Close()

	_, open := <-client.Events()
	assert.False(t, open)
}

func TestStreamClientDialFailure(t *testing.T) {
	_, err := NewStreamClient(context.Background(), "ws://127.0.0.1:1", nil, nil)
	assert.Error(t, err)
}

func TestDecodeStreamMessage(t *testing.T) {
	ev, ok := decodeStreamMessage([]byte(`{"mint":"tokenC","liquidity":"250"}`), 1000)
	require.True(t, ok)
	assert.Equal(t, "tokenC", ev.Address)

	_, ok = decodeStreamMessage([]byte(`{"success":true}`), 1000)
	assert.False(t, ok)
}
