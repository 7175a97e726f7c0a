package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BradenHooton/parlourguard/internal/metrics"
	"github.com/BradenHooton/parlourguard/pkg/logger"
)

// DispatcherConfig sizes the delivery queue
type DispatcherConfig struct {
	BufferSize  int
	Workers     int
	SendTimeout time.Duration
}

// Dispatcher queues messages and delivers them from a fixed pool of workers.
// Enqueue never blocks: when the queue is full the message is dropped and counted.
type Dispatcher struct {
	notifier  Notifier
	cfg       DispatcherConfig
	logger    *slog.Logger
	ch        chan Message
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closeOnce sync.Once

	// mu is held for reading across every send so Close cannot slip in between the
	// closed check and the send
	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(notifier Notifier, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}

	d := &Dispatcher{
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		ch:       make(chan Message, cfg.BufferSize),
		done:     make(chan struct{}),
	}

	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.run()
	}

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case msg := <-d.ch:
			d.deliver(msg)
		case <-d.done:
			for {
				select {
				case msg := <-d.ch:
					d.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
	defer cancel()

	if err := d.notifier.Send(ctx, msg); err != nil {
		metrics.NotificationsSentTotal.WithLabelValues(d.notifier.Name(), "error").Inc()
		d.logger.Warn("notification delivery failed",
			slog.String("kind", msg.Kind),
			slog.String("to", logger.SanitizedEmail(msg.To)),
			slog.Any("error", err),
		)
		return
	}
	metrics.NotificationsSentTotal.WithLabelValues(d.notifier.Name(), "ok").Inc()
}

// Enqueue hands a message to the workers. It returns false when the message was dropped.
// Every accepted message is delivered before Close returns.
func (d *Dispatcher) Enqueue(msg Message) bool {
	if d == nil {
		return false
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	select {
	case d.ch <- msg:
		return true
	default:
		d.dropped.Add(1)
		metrics.NotificationsDroppedTotal.Inc()
		d.logger.Warn("notification queue full, message dropped", slog.String("kind", msg.Kind))
		return false
	}
}

// Close stops accepting messages and waits for queued ones to be delivered
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports how many messages were discarded because the queue was full
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
