package event

import "sync"

// registry holds subscriptions organized by topic pattern. It is safe for
// concurrent use.
type registry struct {
	mu   sync.RWMutex
	subs map[Topic][]*subscription
	byID map[string]*subscription
}

func newRegistry() *registry {
	return &registry{
		subs: make(map[Topic][]*subscription),
		byID: make(map[string]*subscription),
	}
}

func (r *registry) add(sub *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pattern := sub.Topic()
	r.subs[pattern] = append(r.subs[pattern], sub)
	r.byID[sub.ID()] = sub
}

func (r *registry) remove(subID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, exists := r.byID[subID]
	if !exists {
		return false
	}

	pattern := sub.Topic()
	list := r.subs[pattern]
	for i, s := range list {
		if s.ID() == subID {
			r.subs[pattern] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(r.subs[pattern]) == 0 {
		delete(r.subs, pattern)
	}
	delete(r.byID, subID)

	return true
}

// match returns the active subscriptions whose pattern matches the event
// topic. The returned slice is a copy.
func (r *registry) match(eventTopic Topic) []*subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*subscription
	for pattern, list := range r.subs {
		if !eventTopic.Matches(pattern) {
			continue
		}
		for _, sub := range list {
			if sub.IsActive() {
				result = append(result, sub)
			}
		}
	}
	return result
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *registry) countActive() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, sub := range r.byID {
		if sub.IsActive() {
			count++
		}
	}
	return count
}

func (r *registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[Topic][]*subscription)
	r.byID = make(map[string]*subscription)
}
