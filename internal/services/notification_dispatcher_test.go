package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingNotifier struct {
	captureNotifier
	release chan struct{}
}

func (n *blockingNotifier) SendAdminNotification(ctx context.Context, order Order) error {
	select {
	case <-n.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return n.captureNotifier.SendAdminNotification(ctx, order)
}

func TestNotificationDispatcherDeliversAndDrains(t *testing.T) {
	notifier := &captureNotifier{}
	receipts := &captureArchiver{}
	d, err := NewNotificationDispatcher(NotificationDispatcherDeps{Notifier: notifier, Receipts: receipts, Workers: 2})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	order := Order{ID: "ord_1"}
	require.NoError(t, d.SendOrderConfirmation(ctx, order))
	require.NoError(t, d.SendStatusUpdate(ctx, order, "ready"))
	require.NoError(t, d.SendAdminNotification(ctx, order))
	require.NoError(t, d.ArchiveReceipt(ctx, order))
	cancel() // request contexts end before delivery; work must still run

	require.NoError(t, d.Close(context.Background()))
	assert.ElementsMatch(t, []string{"order_confirmation", "status_update", "admin_notification"}, notifier.kinds())
	assert.Equal(t, []string{"ord_1"}, receipts.orders)

	assert.ErrorIs(t, d.SendOrderConfirmation(context.Background(), order), ErrNotificationDispatcherClosed)
	require.NoError(t, d.Close(context.Background()), "close is idempotent")
}

func TestNotificationDispatcherDropsOnOverflow(t *testing.T) {
	notifier := &blockingNotifier{release: make(chan struct{})}
	d, err := NewNotificationDispatcher(NotificationDispatcherDeps{Notifier: notifier, Workers: 1, QueueSize: 1})
	require.NoError(t, err)

	order := Order{ID: "ord_1"}
	started := make(chan struct{})
	var once sync.Once
	notifier.onSend = func(notification) { once.Do(func() { close(started) }) }

	require.NoError(t, d.SendAdminNotification(context.Background(), order))
	// wait until the worker holds the first job so the queue slot is free
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, d.SendAdminNotification(context.Background(), order))
	assert.ErrorIs(t, d.SendAdminNotification(context.Background(), order), ErrNotificationQueueFull)

	close(notifier.release)
	<-started
	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, notifier.kinds(), 2)
}

func TestNotificationDispatcherLogsFailuresAndTimeouts(t *testing.T) {
	var (
		mu     sync.Mutex
		events []string
	)
	logger := func(_ context.Context, event string, fields map[string]any) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, event+":"+fields["kind"].(string))
	}

	notifier := &blockingNotifier{captureNotifier: captureNotifier{err: errors.New("smtp down")}, release: make(chan struct{})}
	d, err := NewNotificationDispatcher(NotificationDispatcherDeps{
		Notifier: notifier,
		Workers:  1,
		Timeout:  10 * time.Millisecond,
		Logger:   logger,
	})
	require.NoError(t, err)

	require.NoError(t, d.SendOrderConfirmation(context.Background(), Order{ID: "ord_1"}))
	require.NoError(t, d.SendAdminNotification(context.Background(), Order{ID: "ord_1"}))
	require.NoError(t, d.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"notification.failed:order_confirmation", "notification.failed:admin_notification"}, events)
}

func TestNotificationDispatcherCloseHonoursDeadline(t *testing.T) {
	notifier := &blockingNotifier{release: make(chan struct{})}
	d, err := NewNotificationDispatcher(NotificationDispatcherDeps{Notifier: notifier, Workers: 1, Timeout: time.Minute})
	require.NoError(t, err)
	require.NoError(t, d.SendAdminNotification(context.Background(), Order{ID: "ord_1"}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
	close(notifier.release)
}

func TestNewNotificationDispatcherRequiresNotifier(t *testing.T) {
	_, err := NewNotificationDispatcher(NotificationDispatcherDeps{})
	require.Error(t, err)
}
