package gateway_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/a-essam23/go-converse/internal/gateway"
	"github.com/a-essam23/go-converse/internal/gateway/mocks"
	"github.com/a-essam23/go-converse/internal/metrics"
	"github.com/a-essam23/go-converse/pkg/logging"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestActivityToucherDrainsOnStop(t *testing.T) {
	ctrl := gomock.NewController(t)
	activityStore := mocks.NewMockActivityStore(ctrl)
	m := metrics.New()

	var mu sync.Mutex
	var seen []string
	activityStore.EXPECT().
		TouchConversationActivity(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, id string, _ time.Time) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, id)
			if id == "c2" {
				return errors.New("db down")
			}
			return nil
		}).
		Times(3)

	toucher := gateway.NewActivityToucher(logging.Discard(), activityStore, m, 8, time.Second)
	require.True(t, toucher.Touch("c1"))
	require.True(t, toucher.Touch("c2"))
	require.True(t, toucher.Touch("c3"))

	toucher.Start(context.Background())
	toucher.Stop()

	mu.Lock()
	require.Equal(t, []string{"c1", "c2", "c3"}, seen)
	mu.Unlock()
	require.Equal(t, 1.0, testutil.ToFloat64(m.ActivityTouchFailures))
	require.False(t, toucher.Touch("c4"))
}

func TestActivityToucherDropsWhenFull(t *testing.T) {
	ctrl := gomock.NewController(t)
	activityStore := mocks.NewMockActivityStore(ctrl)
	m := metrics.New()

	toucher := gateway.NewActivityToucher(logging.Discard(), activityStore, m, 1, time.Second)
	require.True(t, toucher.Touch("c1"))
	require.False(t, toucher.Touch("c2"))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ActivityTouchDropped))

	activityStore.EXPECT().TouchConversationActivity(gomock.Any(), "c1", gomock.Any()).Return(nil)
	toucher.Start(context.Background())
	toucher.Stop()
}
