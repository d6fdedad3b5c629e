package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/a-essam23/go-converse/internal/metrics"
)

type touchRequest struct {
	conversationID string
	at             time.Time
}

// ActivityToucher records conversation last-activity timestamps off the send
// path. Requests go through a bounded queue drained by a single worker. A full
// queue drops the request. Failures are logged and counted, never reported to
// clients.
type ActivityToucher struct {
	store   ActivityStore
	logger  *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	now     func() time.Time

	queue    chan touchRequest
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewActivityToucher(logger *slog.Logger, store ActivityStore, m *metrics.Metrics, queueSize int, timeout time.Duration) *ActivityToucher {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &ActivityToucher{
		store:   store,
		logger:  logger.With(slog.String("component", "activity_toucher")),
		metrics: m,
		timeout: timeout,
		now:     time.Now,
		queue:   make(chan touchRequest, queueSize),
		stop:    make(chan struct{}),
	}
}

// Start launches the worker. ctx bounds every store call it makes.
func (a *ActivityToucher) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.run(ctx)
	}()
}

// Stop drains what is already queued and waits for the worker to exit.
func (a *ActivityToucher) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
	a.wg.Wait()
}

// Touch enqueues an update stamped with the current time. It never blocks.
func (a *ActivityToucher) Touch(conversationID string) bool {
	select {
	case <-a.stop:
		return false
	default:
	}
	req := touchRequest{conversationID: conversationID, at: a.now()}
	select {
	case a.queue <- req:
		return true
	default:
		a.metrics.ActivityTouchDropped.Inc()
		a.logger.Warn("Activity queue full, dropping update",
			slog.String("conversationID", conversationID),
			slog.Int("queueSize", cap(a.queue)),
		)
		return false
	}
}

func (a *ActivityToucher) run(ctx context.Context) {
	for {
		select {
		case req := <-a.queue:
			a.touch(ctx, req)
		case <-a.stop:
			for {
				select {
				case req := <-a.queue:
					a.touch(ctx, req)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (a *ActivityToucher) touch(ctx context.Context, req touchRequest) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	if err := a.store.TouchConversationActivity(ctx, req.conversationID, req.at); err != nil {
		a.metrics.ActivityTouchFailures.Inc()
		a.logger.Warn("Failed to update conversation activity",
			slog.String("conversationID", req.conversationID),
			slog.Any("error", err),
		)
	}
}
