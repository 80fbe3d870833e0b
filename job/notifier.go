package job

import (
	"sync"
)

// SubscriberChannelBufferSize is the buffer size for subscriber channels.
// Sends are non-blocking: a subscriber that falls this far behind misses
// updates rather than stalling the writer.
const SubscriberChannelBufferSize = 16

// Notifier pushes refreshed job records to observers interested in a
// specific job id. Delivery happens on every confirmed store write, not by
// polling. At most one subscription is active per (observer, job) pair;
// re-subscribing replaces the previous registration.
type Notifier struct {
	mu   sync.RWMutex
	subs map[string]map[string]*Subscription // jobID → observerID → subscription
}

// Subscription is the cancellable handle returned by Subscribe. Updates
// arrive on C until Cancel is called.
type Subscription struct {
	C chan *Job

	jobID      string
	observerID string
	notifier   *Notifier
	once       sync.Once
}

// Cancel unregisters the subscription. It is idempotent: cancelling an
// already-cancelled or replaced subscription is a no-op.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.notifier.remove(s)
		close(s.C)
	})
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		subs: make(map[string]map[string]*Subscription),
	}
}

// Subscribe registers interest in changes to jobID on behalf of observerID.
// A previous subscription by the same observer for the same job is cancelled
// and replaced.
func (n *Notifier) Subscribe(jobID, observerID string) *Subscription {
	sub := &Subscription{
		C:          make(chan *Job, SubscriberChannelBufferSize),
		jobID:      jobID,
		observerID: observerID,
		notifier:   n,
	}

	n.mu.Lock()
	byObserver, ok := n.subs[jobID]
	if !ok {
		byObserver = make(map[string]*Subscription)
		n.subs[jobID] = byObserver
	}
	prev := byObserver[observerID]
	byObserver[observerID] = sub
	n.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}
	return sub
}

// Publish delivers the refreshed job to every subscriber of its id.
// Uses non-blocking send to avoid stalling if a subscriber is slow.
func (n *Notifier) Publish(j *Job) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, sub := range n.subs[j.ID] {
		select {
		case sub.C <- j:
		default:
			// Channel full, skip
		}
	}
}

// remove detaches a subscription if it is still the active registration for
// its (observer, job) pair. A replaced subscription must not remove its
// successor.
func (n *Notifier) remove(s *Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()

	byObserver, ok := n.subs[s.jobID]
	if !ok {
		return
	}
	if byObserver[s.observerID] == s {
		delete(byObserver, s.observerID)
		if len(byObserver) == 0 {
			delete(n.subs, s.jobID)
		}
	}
}
