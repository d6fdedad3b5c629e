package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/a-essam23/go-converse/pkg/logging"
	"github.com/a-essam23/go-converse/pkg/transport"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestServer accepts one websocket per request and wires the handler the
// test provides into a transport.Connection.
func newTestServer(t *testing.T, onMessage func(c *transport.Connection, msg []byte), closed chan<- error) *httptest.Server {
	t.Helper()
	var wg sync.WaitGroup
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		var conn *transport.Connection
		conn = transport.NewConnection(context.Background(), &wg, wsConn, transport.ConnectionConfig{SendBuffer: 8}, func(ctx context.Context, id uuid.UUID, msg []byte) {
			onMessage(conn, msg)
		}, func(id uuid.UUID, err error) {
			if closed != nil {
				closed <- err
			}
		}, logging.Discard())
		conn.Run()
		<-conn.Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func TestConnectionEcho(t *testing.T) {
	srv := newTestServer(t, func(c *transport.Connection, msg []byte) {
		c.Send(append([]byte("echo:"), msg...))
	}, nil)
	client := dial(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Write(ctx, websocket.MessageText, []byte("ping")))
	_, data, err := client.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, "echo:ping", string(data))
}

func TestConnectionCloseFlushesQueuedFrames(t *testing.T) {
	closed := make(chan error, 1)
	srv := newTestServer(t, func(c *transport.Connection, msg []byte) {
		c.Send([]byte("bye"))
		c.Close(transport.ErrClosedByServer)
		assert.False(t, c.Send([]byte("late")))
	}, closed)
	client := dial(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Write(ctx, websocket.MessageText, []byte("hi")))

	_, data, err := client.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, "bye", string(data))

	_, _, err = client.Read(ctx)
	require.Error(t, err)
	require.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))

	select {
	case reason := <-closed:
		require.ErrorIs(t, reason, transport.ErrClosedByServer)
	case <-time.After(5 * time.Second):
		t.Fatal("close handler was not invoked")
	}
}

func TestConnectionClientDisconnectRunsCloseHandler(t *testing.T) {
	closed := make(chan error, 1)
	srv := newTestServer(t, func(c *transport.Connection, msg []byte) {}, closed)
	client := dial(t, srv)
	require.NoError(t, client.Close(websocket.StatusNormalClosure, ""))

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("close handler was not invoked after client disconnect")
	}
}

func TestCloseBeforeRun(t *testing.T) {
	var calls int
	conn := transport.NewConnection(context.Background(), nil, nil, transport.ConnectionConfig{}, nil, func(uuid.UUID, error) {
		calls++
	}, logging.Discard())

	conn.Close(nil)
	conn.Close(nil)

	select {
	case <-conn.Done():
	default:
		t.Fatal("expected Done to be closed")
	}
	require.Equal(t, 1, calls)
	require.False(t, conn.Send([]byte("x")))
}

func TestConnectionStopsDispatchingAfterClose(t *testing.T) {
	for i := 0; i < 20; i++ {
		var mu sync.Mutex
		var got []string
		closed := make(chan error, 1)
		srv := newTestServer(t, func(c *transport.Connection, msg []byte) {
			mu.Lock()
			got = append(got, string(msg))
			mu.Unlock()
			c.Close(transport.ErrClosedByServer)
		}, closed)
		client := dial(t, srv)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		require.NoError(t, client.Write(ctx, websocket.MessageText, []byte("first")))
		_ = client.Write(ctx, websocket.MessageText, []byte("second"))
		// drain until the server's close frame arrives
		for {
			if _, _, err := client.Read(ctx); err != nil {
				break
			}
		}
		cancel()

		select {
		case <-closed:
		case <-time.After(5 * time.Second):
			t.Fatal("close handler was not invoked")
		}
		mu.Lock()
		require.Equal(t, []string{"first"}, got)
		mu.Unlock()
	}
}
