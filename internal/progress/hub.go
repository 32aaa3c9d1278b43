// Package progress fans out pipeline events to live observers. One hub
// instance serves the whole process; observers subscribe to a single
// project's stream. Delivery is at-least-once with no history replay,
// and ordering is guaranteed per project only.
package progress

import (
	"log"
	"sync"
	"time"

	"github.com/clipforge/orchestrator/internal/domain"
)

const (
	// DefaultHeartbeatInterval is how often observers are pinged. An
	// observer that has not acknowledged within twice this interval is
	// dropped.
	DefaultHeartbeatInterval = 30 * time.Second

	publishQueueSize    = 1024
	subscriberQueueSize = 64
)

// Subscriber is one live observer of a single project's events
type Subscriber struct {
	projectID string
	ch        chan domain.ProgressEvent

	mu      sync.Mutex
	lastAck time.Time
	closed  bool
}

// Events is the ordered stream of events for the subscribed project.
// The channel closes when the hub drops the subscriber.
func (s *Subscriber) Events() <-chan domain.ProgressEvent {
	return s.ch
}

// Pong acknowledges the most recent ping, keeping the subscription alive
func (s *Subscriber) Pong() {
	s.mu.Lock()
	s.lastAck = time.Now()
	s.mu.Unlock()
}

func (s *Subscriber) ackAge(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastAck)
}

// send delivers without blocking; a full buffer marks the subscriber dead
func (s *Subscriber) send(ev domain.ProgressEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Hub routes published events to the current subscribers of each
// project. All delivery happens on the hub's own goroutine, so events
// published for one project reach each observer in publish order.
type Hub struct {
	heartbeat time.Duration

	queue chan domain.ProgressEvent

	mu   sync.RWMutex
	subs map[string]map[*Subscriber]bool

	stopOnce sync.Once
	stop     chan struct{}
}

// NewHub creates a hub. A non-positive heartbeat falls back to the
// default interval.
func NewHub(heartbeat time.Duration) *Hub {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	return &Hub{
		heartbeat: heartbeat,
		queue:     make(chan domain.ProgressEvent, publishQueueSize),
		subs:      make(map[string]map[*Subscriber]bool),
		stop:      make(chan struct{}),
	}
}

// Run drains the publish queue and drives the heartbeat loop. Call in
// its own goroutine; returns when Stop is called.
func (h *Hub) Run() {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			h.closeAll()
			return
		case ev := <-h.queue:
			h.deliver(ev)
		case <-ticker.C:
			h.sweep()
		}
	}
}

// Stop shuts the hub down and closes every subscriber
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Publish enqueues an event for fan-out. Never blocks the pipeline: if
// the queue is full the event is dropped, which observers must tolerate
// anyway after a reconnect.
func (h *Hub) Publish(ev domain.ProgressEvent) {
	select {
	case h.queue <- ev:
	default:
		log.Printf("progress queue full, dropping %s event for %s", ev.Kind, ev.ProjectID)
	}
}

// Subscribe registers an observer for one project. The observer
// immediately receives a connected event.
func (h *Hub) Subscribe(projectID string) *Subscriber {
	sub := &Subscriber{
		projectID: projectID,
		ch:        make(chan domain.ProgressEvent, subscriberQueueSize),
		lastAck:   time.Now(),
	}

	h.mu.Lock()
	if h.subs[projectID] == nil {
		h.subs[projectID] = make(map[*Subscriber]bool)
	}
	h.subs[projectID][sub] = true
	h.mu.Unlock()

	sub.send(domain.NewEvent(projectID, domain.EventConnected, nil))
	return sub
}

// Unsubscribe removes an observer and closes its stream
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	if set, ok := h.subs[sub.projectID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.projectID)
		}
	}
	h.mu.Unlock()
	sub.close()
}

// SubscriberCount returns the number of live observers for a project
func (h *Hub) SubscriberCount(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[projectID])
}

func (h *Hub) deliver(ev domain.ProgressEvent) {
	h.mu.RLock()
	var dead []*Subscriber
	for sub := range h.subs[ev.ProjectID] {
		if !sub.send(ev) {
			dead = append(dead, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range dead {
		log.Printf("dropping slow observer of project %s", ev.ProjectID)
		h.Unsubscribe(sub)
	}
}

// sweep pings every subscriber and drops those that missed two
// heartbeat windows. This bounds resource usage from abandoned
// observers without relying on transport-level disconnect detection.
func (h *Hub) sweep() {
	now := time.Now()

	h.mu.RLock()
	var dead []*Subscriber
	for projectID, set := range h.subs {
		ping := domain.NewEvent(projectID, domain.EventPing, nil)
		for sub := range set {
			if sub.ackAge(now) > 2*h.heartbeat {
				dead = append(dead, sub)
				continue
			}
			if !sub.send(ping) {
				dead = append(dead, sub)
			}
		}
	}
	h.mu.RUnlock()

	for _, sub := range dead {
		log.Printf("observer of project %s missed heartbeat window, disconnecting", sub.projectID)
		h.Unsubscribe(sub)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for _, set := range h.subs {
		for sub := range set {
			sub.close()
		}
	}
	h.subs = make(map[string]map[*Subscriber]bool)
	h.mu.Unlock()
}
