package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// callback executed when a message is received.
type MessageHandler func(ctx context.Context, connID uuid.UUID, msg []byte)

type OnCloseHandler func(connID uuid.UUID, err error)

type ConnectionConfig struct {
	ReadTimeout time.Duration
	SendBuffer  int
}

const (
	defaultSendBuffer = 256
	flushTimeout      = 5 * time.Second
)

// ErrClosedByServer is the close reason used when the server ends a session.
var ErrClosedByServer = errors.New("connection closed by server")

// Connection represents a single, thread-safe WebSocket connection.
type Connection struct {
	id     uuid.UUID
	conn   *websocket.Conn
	config ConnectionConfig
	send   chan []byte

	onMessage MessageHandler
	onClose   OnCloseHandler

	closing     chan struct{}
	closeReason error
	done        chan struct{}
	started     atomic.Bool

	wg         *sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
	finishOnce sync.Once

	logger *slog.Logger
}

func NewConnection(parentCtx context.Context, wg *sync.WaitGroup, conn *websocket.Conn, config ConnectionConfig, onMessage MessageHandler, onClose OnCloseHandler, logger *slog.Logger) *Connection {
	id := uuid.New()
	connCtx, cancel := context.WithCancel(parentCtx)
	connLogger := logger.With(slog.String("connID", id.String()))
	if config.SendBuffer <= 0 {
		config.SendBuffer = defaultSendBuffer
	}

	return &Connection{
		id:        id,
		conn:      conn,
		logger:    connLogger,
		config:    config,
		onMessage: onMessage,
		send:      make(chan []byte, config.SendBuffer),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
		ctx:       connCtx,
		cancel:    cancel,
		onClose:   onClose,
		wg:        wg,
	}
}

func (c *Connection) Run() {
	select {
	case <-c.closing:
		return
	default:
	}
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	if c.wg != nil {
		c.wg.Add(1)
	}

	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		c.readPump()
	}()
	go func() {
		defer pumps.Done()
		c.writePump()
	}()
	go func() {
		pumps.Wait()
		c.finish()
	}()

	c.logger.Info("connection established")
}

// readPump pumps messages from the WebSocket connection to the message handler.
// Frames are dispatched synchronously, so one connection's events are handled in order.
func (c *Connection) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		readCtx, cancelRead := c.ctx, context.CancelFunc(func() {})
		if c.config.ReadTimeout > 0 {
			readCtx, cancelRead = context.WithTimeout(c.ctx, c.config.ReadTimeout)
		}
		_, message, err := c.conn.Read(readCtx)
		cancelRead()
		if err != nil {
			readErr = err
			return
		}
		// frames already buffered when the close started are not dispatched
		select {
		case <-c.closing:
			return
		default:
		}
		if c.onMessage != nil {
			c.onMessage(c.ctx, c.id, message)
		}
	}
}

// writePump pumps messages from the send channel to the WebSocket connection.
func (c *Connection) writePump() {
	defer c.cancel()

	for {
		select {
		case message := <-c.send:
			if err := c.conn.Write(c.ctx, websocket.MessageText, message); err != nil {
				c.Close(err)
				_ = c.conn.CloseNow()
				return
			}
		case <-c.closing:
			c.flush()
			_ = c.conn.Close(websocket.StatusNormalClosure, closeText(c.closeReason))
			return
		case <-c.ctx.Done():
			c.Close(c.ctx.Err())
			_ = c.conn.CloseNow()
			return
		}
	}
}

// flush writes whatever is still queued so a final error frame reaches the client.
func (c *Connection) flush() {
	ctx, cancel := context.WithTimeout(c.ctx, flushTimeout)
	defer cancel()
	for {
		select {
		case message := <-c.send:
			if err := c.conn.Write(ctx, websocket.MessageText, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Send queues a message for the client. It is safe for concurrent use and never
// blocks: frames for a closed connection or a full buffer are dropped.
func (c *Connection) Send(message []byte) bool {
	select {
	case <-c.closing:
		return false
	default:
	}
	select {
	case c.send <- message:
		return true
	case <-c.closing:
		return false
	default:
		c.logger.Warn("Send buffer full, dropping frame", slog.Int("buffer", cap(c.send)))
		return false
	}
}

// Close starts a graceful shutdown: queued frames are flushed, the close
// handshake is sent, then the close handler runs once.
func (c *Connection) Close(err error) {
	c.closeOnce.Do(func() {
		c.closeReason = err
		status := websocket.CloseStatus(err)
		c.logger.Info("Transport connection closing", slog.Any("reason", err), slog.String("status", status.String()))
		close(c.closing)
		if !c.started.Load() {
			c.cancel()
			if c.conn != nil {
				_ = c.conn.CloseNow()
			}
			c.finish()
		}
	})
}

func (c *Connection) finish() {
	c.finishOnce.Do(func() {
		c.logger.Info("Connection closed")
		if c.onClose != nil {
			c.onClose(c.id, c.closeReason)
		}
		if c.wg != nil && c.started.Load() {
			c.wg.Done()
		}
		close(c.done)
	})
}

func closeText(err error) string {
	if errors.Is(err, ErrClosedByServer) {
		return err.Error()
	}
	return ""
}

// returns a channel that is closed when the connection is fully terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// ID returns the unique identifier of the connection.
func (c *Connection) ID() uuid.UUID {
	return c.id
}
