package socket

import (
	"sync"

	"github.com/google/uuid"

	"github.com/psn-mobile/psnchat/internal/wire"
)

// Subscription identifies one registered callback so it can be removed.
type Subscription struct {
	kind wire.Kind
	id   uuid.UUID
}

// Kind reports which event kind the subscription listens to.
func (s Subscription) Kind() wire.Kind { return s.kind }

type subscriber struct {
	id uuid.UUID
	fn func(wire.Event)
}

// bus is the subscription registry. Dispatch iterates over a snapshot
// and re-checks membership per callback, so a subscriber removed during
// delivery is never invoked later in the same cycle.
type bus struct {
	mu   sync.Mutex
	subs map[wire.Kind][]subscriber
}

func newBus() bus {
	return bus{subs: make(map[wire.Kind][]subscriber)}
}

func (b *bus) on(kind wire.Kind, fn func(wire.Event)) Subscription {
	id := uuid.New()
	b.mu.Lock()
	b.subs[kind] = append(b.subs[kind], subscriber{id: id, fn: fn})
	b.mu.Unlock()
	return Subscription{kind: kind, id: id}
}

func (b *bus) off(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.kind]
	for i, s := range list {
		if s.id == sub.id {
			b.subs[sub.kind] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.kind]) == 0 {
		delete(b.subs, sub.kind)
	}
}

func (b *bus) offAll(kind wire.Kind) {
	b.mu.Lock()
	delete(b.subs, kind)
	b.mu.Unlock()
}

func (b *bus) clear() {
	b.mu.Lock()
	b.subs = make(map[wire.Kind][]subscriber)
	b.mu.Unlock()
}

func (b *bus) contains(kind wire.Kind, id uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs[kind] {
		if s.id == id {
			return true
		}
	}
	return false
}

func (b *bus) publish(ev wire.Event) {
	b.mu.Lock()
	list := b.subs[ev.Kind]
	snapshot := make([]subscriber, len(list))
	copy(snapshot, list)
	b.mu.Unlock()

	for _, s := range snapshot {
		if b.contains(ev.Kind, s.id) {
			s.fn(ev)
		}
	}
}
