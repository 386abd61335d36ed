package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	defaultNotificationWorkers   = 4
	defaultNotificationQueueSize = 256
	defaultNotificationTimeout   = 30 * time.Second
)

var (
	// ErrNotificationQueueFull is returned when a notification was dropped because the queue is full.
	ErrNotificationQueueFull = errors.New("notifications: queue full")
	// ErrNotificationDispatcherClosed is returned after Close.
	ErrNotificationDispatcherClosed = errors.New("notifications: dispatcher closed")
)

// NotificationDispatcherDeps bundles collaborators required to construct the dispatcher.
type NotificationDispatcherDeps struct {
	Notifier  Notifier
	Receipts  ReceiptArchiver
	Workers   int
	QueueSize int
	// Timeout bounds each delivery.
	Timeout time.Duration
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type notificationJob struct {
	ctx   context.Context
	kind  string
	order string
	run   func(context.Context) error
}

// NotificationDispatcher moves notifier and receipt calls off the request
// path onto a fixed pool of workers. It implements Notifier and
// ReceiptArchiver; an accepted call returns nil and delivery errors are
// logged by the worker.
type NotificationDispatcher struct {
	notifier Notifier
	receipts ReceiptArchiver
	timeout  time.Duration
	logger   func(context.Context, string, map[string]any)

	mu     sync.RWMutex
	closed bool
	queue  chan notificationJob
	wg     sync.WaitGroup
}

var (
	_ Notifier        = (*NotificationDispatcher)(nil)
	_ ReceiptArchiver = (*NotificationDispatcher)(nil)
)

// NewNotificationDispatcher starts the worker pool. Call Close to drain it.
func NewNotificationDispatcher(deps NotificationDispatcherDeps) (*NotificationDispatcher, error) {
	if deps.Notifier == nil {
		return nil, errors.New("notification dispatcher: notifier is required")
	}
	workers := deps.Workers
	if workers <= 0 {
		workers = defaultNotificationWorkers
	}
	size := deps.QueueSize
	if size <= 0 {
		size = defaultNotificationQueueSize
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultNotificationTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	d := &NotificationDispatcher{
		notifier: deps.Notifier,
		receipts: deps.Receipts,
		timeout:  timeout,
		logger:   logger,
		queue:    make(chan notificationJob, size),
	}
	d.wg.Add(workers)
	for range workers {
		go d.work()
	}
	return d, nil
}

func (d *NotificationDispatcher) SendOrderConfirmation(ctx context.Context, order Order) error {
	return d.enqueue(ctx, "order_confirmation", order.ID, func(ctx context.Context) error {
		return d.notifier.SendOrderConfirmation(ctx, order)
	})
}

func (d *NotificationDispatcher) SendStatusUpdate(ctx context.Context, order Order, status OrderStatus) error {
	return d.enqueue(ctx, "status_update", order.ID, func(ctx context.Context) error {
		return d.notifier.SendStatusUpdate(ctx, order, status)
	})
}

func (d *NotificationDispatcher) SendAdminNotification(ctx context.Context, order Order) error {
	return d.enqueue(ctx, "admin_notification", order.ID, func(ctx context.Context) error {
		return d.notifier.SendAdminNotification(ctx, order)
	})
}

func (d *NotificationDispatcher) ArchiveReceipt(ctx context.Context, order Order) error {
	if d.receipts == nil {
		return nil
	}
	return d.enqueue(ctx, "receipt_archive", order.ID, func(ctx context.Context) error {
		return d.receipts.ArchiveReceipt(ctx, order)
	})
}

// Close stops accepting work and waits for queued deliveries to finish or ctx
// to expire.
func (d *NotificationDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notification dispatcher: drain: %w", ctx.Err())
	}
}

func (d *NotificationDispatcher) enqueue(ctx context.Context, kind, orderID string, run func(context.Context) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrNotificationDispatcherClosed
	}
	job := notificationJob{
		ctx:   context.WithoutCancel(ctx),
		kind:  kind,
		order: orderID,
		run:   run,
	}
	select {
	case d.queue <- job:
		return nil
	default:
		return ErrNotificationQueueFull
	}
}

func (d *NotificationDispatcher) work() {
	defer d.wg.Done()
	for job := range d.queue {
		d.deliver(job)
	}
}

func (d *NotificationDispatcher) deliver(job notificationJob) {
	ctx, cancel := context.WithTimeout(job.ctx, d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.logger(ctx, "notification.panic", map[string]any{
				"kind":  job.kind,
				"order": job.order,
				"panic": fmt.Sprint(r),
			})
		}
	}()

	started := time.Now()
	if err := job.run(ctx); err != nil {
		d.logger(ctx, "notification.failed", map[string]any{
			"kind":    job.kind,
			"order":   job.order,
			"error":   err.Error(),
			"elapsed": time.Since(started).String(),
		})
	}
}
