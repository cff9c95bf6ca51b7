package event

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

var ErrLoopStopped = errors.New("event: loop stopped")

const DefaultIdleTimeout = 5 * time.Minute

// Loop queues published envelopes and hands them to the registry. Every guild ID
// gets its own queue and worker: one guild's events are dispatched one at a time
// in publish order, and a slow handler in one guild never holds up another.
// Workers are started on the first envelope for a guild and stop after sitting
// idle for the idle timeout.
type Loop struct {
	registry  *Registry
	logger    *log.Logger
	queueSize int
	idle      time.Duration

	mu     sync.Mutex
	queues map[string]*guildQueue
	wg     sync.WaitGroup

	// ctx is set by Run before started is closed.
	ctx      context.Context
	started  chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type guildQueue struct {
	guildID string
	ch      chan Envelope
	// pending counts publishers that hold this queue but have not been received
	// from yet. A queue is only reaped at zero. Guarded by Loop.mu.
	pending int
}

func NewLoop(registry *Registry, queueSize int, idle time.Duration, logger *log.Logger) *Loop {
	if queueSize < 0 {
		queueSize = 0
	}
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Loop{
		registry:  registry,
		logger:    logger,
		queueSize: queueSize,
		idle:      idle,
		queues:    map[string]*guildQueue{},
		started:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Publish queues env, blocking while its guild's queue is full.
func (l *Loop) Publish(ctx context.Context, env Envelope) error {
	q, err := l.acquire(env.GuildID)
	if err != nil {
		return err
	}

	select {
	case q.ch <- env:
		return nil
	case <-l.done:
		err = ErrLoopStopped
	case <-ctx.Done():
		err = ctx.Err()
	}

	l.mu.Lock()
	q.pending--
	l.mu.Unlock()
	return err
}

// acquire returns the queue for guildID, starting its worker if there is none.
func (l *Loop) acquire(guildID string) (*guildQueue, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	select {
	case <-l.done:
		return nil, ErrLoopStopped
	default:
	}

	q, ok := l.queues[guildID]
	if !ok {
		q = &guildQueue{guildID: guildID, ch: make(chan Envelope, l.queueSize)}
		l.queues[guildID] = q

		l.wg.Add(1)
		go l.work(q)
	}
	q.pending++
	return q, nil
}

// Run dispatches queued envelopes until ctx is cancelled. Envelopes still queued
// at that point are dropped.
func (l *Loop) Run(ctx context.Context) error {
	l.ctx = ctx
	close(l.started)

	<-ctx.Done()

	l.mu.Lock()
	l.stopOnce.Do(func() { close(l.done) })
	l.mu.Unlock()
	l.wg.Wait()

	l.logger.Info("Event loop stopped")
	return nil
}

// Workers returns the number of guild workers currently running.
func (l *Loop) Workers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queues)
}

func (l *Loop) work(q *guildQueue) {
	defer l.wg.Done()

	select {
	case <-l.started:
	case <-l.done:
		return
	}

	l.logger.Debug("Event worker started", "guild", q.guildID)
	timer := time.NewTimer(l.idle)
	defer timer.Stop()

	for {
		select {
		case <-l.done:
			return
		case env := <-q.ch:
			l.mu.Lock()
			q.pending--
			l.mu.Unlock()

			l.registry.Dispatch(WithEventID(l.ctx, env.ID), env.Type, env.Payload)

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(l.idle)
		case <-timer.C:
			l.mu.Lock()
			if q.pending > 0 {
				l.mu.Unlock()
				timer.Reset(l.idle)
				continue
			}
			delete(l.queues, q.guildID)
			l.mu.Unlock()

			l.logger.Debug("Event worker idle, stopping", "guild", q.guildID)
			return
		}
	}
}
