// Package realtime delivers payload-free change signals from Postgres
// LISTEN/NOTIFY. Consumers treat a signal as an invalidation, not a diff:
// the task table triggers call pg_notify on every insert, update and
// delete, and subscribers are expected to re-pull ground truth.
package realtime

import (
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

type Options struct {
	MinReconnect time.Duration
	MaxReconnect time.Duration
	PingInterval time.Duration
}

func (o *Options) withDefaults() Options {
	opts := Options{
		MinReconnect: 10 * time.Second,
		MaxReconnect: time.Minute,
		PingInterval: 90 * time.Second,
	}
	if o == nil {
		return opts
	}
	if o.MinReconnect > 0 {
		opts.MinReconnect = o.MinReconnect
	}
	if o.MaxReconnect > 0 {
		opts.MaxReconnect = o.MaxReconnect
	}
	if o.PingInterval > 0 {
		opts.PingInterval = o.PingInterval
	}
	return opts
}

// Listener fans a single LISTEN channel out to any number of subscribers.
type Listener struct {
	pl  *pq.Listener
	log *logrus.Entry

	mu     sync.Mutex
	subs   map[int]func()
	nextID int

	done chan struct{}
	once sync.Once
}

// New connects, starts listening on channel and begins dispatching.
func New(dsn, channel string, log *logrus.Logger, opts *Options) (*Listener, error) {
	o := opts.withDefaults()

	entry := log.WithField("component", "realtime")

	pl := pq.NewListener(dsn, o.MinReconnect, o.MaxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			entry.WithError(err).Warn("listener connection event")
		}
	})

	if err := pl.Listen(channel); err != nil {
		pl.Close()
		return nil, fmt.Errorf("listen on %q: %w", channel, err)
	}

	l := &Listener{
		pl:   pl,
		log:  entry,
		subs: make(map[int]func()),
		done: make(chan struct{}),
	}

	go l.dispatch(o.PingInterval)
	return l, nil
}

// Subscribe registers fn to run on every change signal. The returned
// function removes the subscription; calling it more than once is safe.
func (l *Listener) Subscribe(fn func()) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	l.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.subs, id)
		})
	}
}

// Close stops dispatching and tears down the connection.
func (l *Listener) Close() error {
	l.once.Do(func() { close(l.done) })
	return l.pl.Close()
}

func (l *Listener) dispatch(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case n, ok := <-l.pl.Notify:
			// Close tears the channel down; don't mistake that for a
			// burst of reconnects.
			if !ok {
				return
			}
			// A nil notification means the connection was re-established.
			// Events may have been missed while disconnected, so a
			// reconnect counts as a signal too.
			if n == nil {
				l.log.Info("reconnected, forcing refresh")
			}
			l.broadcast()
		case <-ticker.C:
			go func() {
				if err := l.pl.Ping(); err != nil {
					l.log.WithError(err).Warn("listener ping failed")
				}
			}()
		}
	}
}

func (l *Listener) broadcast() {
	l.mu.Lock()
	fns := make([]func(), 0, len(l.subs))
	for _, fn := range l.subs {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
