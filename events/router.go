package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-identity/core"
)

// storeTimeout bounds the persistence call for a single event so one
// slow append cannot stall the whole delivery pipeline.
const storeTimeout = 5 * time.Second

// Subscription is one live listener. Events arrive on Events() in
// timestamp order; the channel is closed when the subscriber is removed
// or the router shuts down.
type Subscription struct {
	router *Router
	ip     string
	level  Level
	latest int64
	ch     chan Event
}

// Events returns the delivery channel.
func (s *Subscription) Events() <-chan Event { return s.ch }

// IP identifies the subscriber for logging.
func (s *Subscription) IP() string { return s.ip }

// Close removes the subscription from the router. Safe to call more
// than once; the delivery channel is closed by the router's consumer.
func (s *Subscription) Close() {
	s.router.deregister(s)
}

// envelope is a unit of work for the consumer loop: exactly one field
// is set.
type envelope struct {
	evt        *Event
	register   *Subscription
	deregister *Subscription
}

// Router accepts events from any goroutine, persists them, and fans
// them out to subscribers. Send never blocks: the queue is unbounded
// and drained by a single consumer, which is also the only goroutine
// that touches the subscriber set.
type Router struct {
	store  Store
	logger core.Logger
	buffer int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []envelope
	closed bool

	startOnce sync.Once
	done      chan struct{}

	subs map[*Subscription]struct{}
}

// NewRouter builds a router over the given store. Call Start before
// sending.
func NewRouter(store Store, cfg core.EventsConfig, logger core.Logger) (*Router, error) {
	if store == nil {
		return nil, fmt.Errorf("events: store is required")
	}
	buffer := cfg.SubscriberBuffer
	if buffer <= 0 {
		buffer = core.DefaultConfig().Events.SubscriberBuffer
	}
	r := &Router{
		store:  store,
		logger: glog.Ensure(logger),
		buffer: buffer,
		done:   make(chan struct{}),
		subs:   map[*Subscription]struct{}{},
	}
	r.cond = sync.NewCond(&r.mu)
	return r, nil
}

// Start launches the consumer loop. The router shuts down when ctx is
// cancelled or Close is called, whichever comes first.
func (r *Router) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		go r.run()
		if ctx != nil && ctx.Done() != nil {
			go func() {
				select {
				case <-ctx.Done():
					r.Close()
				case <-r.done:
				}
			}()
		}
	})
}

// Close drains the queue, closes every subscriber channel, and stops
// the consumer. Events sent after Close are dropped.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	r.cond.Broadcast()
	r.mu.Unlock()
	<-r.done
}

// Send enqueues an event for persistence and fan-out. It never blocks
// and never fails; events sent after shutdown are dropped.
func (r *Router) Send(evt Event) {
	r.enqueue(envelope{evt: &evt})
}

// Subscribe registers a listener. Events below minLevel are filtered
// out. A non-zero latest replays stored events newer than that
// timestamp before live delivery begins, so a reconnecting subscriber
// sees nothing twice and misses nothing it can still get.
func (r *Router) Subscribe(ip string, minLevel Level, latest int64) (*Subscription, error) {
	sub := &Subscription{
		router: r,
		ip:     ip,
		level:  minLevel,
		latest: latest,
		ch:     make(chan Event, r.buffer),
	}
	if !r.enqueue(envelope{register: sub}) {
		return nil, fmt.Errorf("events: router is closed")
	}
	return sub, nil
}

// Find queries stored events for API callers.
func (r *Router) Find(ctx context.Context, q Query) ([]Event, error) {
	return r.store.Find(ctx, q)
}

func (r *Router) deregister(sub *Subscription) {
	r.enqueue(envelope{deregister: sub})
}

// queueDepthWarn is the backlog size at which the router starts
// complaining about a slow consumer.
const queueDepthWarn = 1024

func (r *Router) enqueue(env envelope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.queue = append(r.queue, env)
	if len(r.queue)%queueDepthWarn == 0 {
		r.logger.Warn("event queue backlog growing", "depth", len(r.queue))
	}
	r.cond.Signal()
	return true
}

func (r *Router) next() (envelope, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.queue) == 0 && !r.closed {
		r.cond.Wait()
	}
	if len(r.queue) == 0 {
		return envelope{}, false
	}
	env := r.queue[0]
	r.queue = r.queue[1:]
	return env, true
}

func (r *Router) run() {
	defer close(r.done)
	for {
		env, ok := r.next()
		if !ok {
			break
		}
		switch {
		case env.evt != nil:
			r.handleEvent(*env.evt)
		case env.register != nil:
			r.handleRegister(env.register)
		case env.deregister != nil:
			r.handleDeregister(env.deregister)
		}
	}
	for sub := range r.subs {
		close(sub.ch)
	}
	r.subs = map[*Subscription]struct{}{}
}

func (r *Router) handleEvent(evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	err := r.store.Append(ctx, evt)
	cancel()
	if err != nil {
		// Live delivery still happens; the event is only lost for replay.
		r.logger.Error("persisting event failed", "event", evt.String(), "error", err)
	}

	for sub := range r.subs {
		if evt.Level < sub.level {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			r.logger.Warn("dropping slow event subscriber", "ip", sub.ip)
			delete(r.subs, sub)
			close(sub.ch)
		}
	}
}

func (r *Router) handleRegister(sub *Subscription) {
	if sub.latest > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		backlog, err := r.store.Find(ctx, Query{From: sub.latest + 1, Level: sub.level})
		cancel()
		if err != nil {
			r.logger.Error("event backlog replay failed", "ip", sub.ip, "error", err)
		}
	replay:
		for _, evt := range backlog {
			select {
			case sub.ch <- evt:
			default:
				r.logger.Warn("event backlog exceeds subscriber buffer, truncating replay", "ip", sub.ip)
				break replay
			}
		}
	}
	r.subs[sub] = struct{}{}
}

func (r *Router) handleDeregister(sub *Subscription) {
	if _, ok := r.subs[sub]; !ok {
		return
	}
	delete(r.subs, sub)
	close(sub.ch)
}
