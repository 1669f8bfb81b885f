package events

import (
	"context"
	"sync"

	"github.com/wolfman30/proposal-wizard/internal/wizard"
	"github.com/wolfman30/proposal-wizard/pkg/logging"
)

const defaultBuffer = 64

// Bus delivers events to in-process subscribers of the same session.
// Publish never blocks: a subscriber with a full buffer misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	logger *logging.Logger
}

// Subscription receives the events of one session on C until Close.
type Subscription struct {
	C <-chan wizard.Event

	ch      chan wizard.Event
	session string
	bus     *Bus
	once    sync.Once
}

// NewBus creates a bus whose subscribers buffer up to buffer events.
func NewBus(buffer int, logger *logging.Logger) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Bus{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Publish implements wizard.EventSink.
func (b *Bus) Publish(_ context.Context, evt wizard.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[evt.SessionID] {
		select {
		case sub.ch <- evt:
		default:
			b.logger.Debug("event dropped for slow subscriber", "session_id", evt.SessionID, "kind", evt.Kind)
		}
	}
}

// Subscribe registers a subscriber for session.
func (b *Bus) Subscribe(session string) *Subscription {
	ch := make(chan wizard.Event, b.buffer)
	sub := &Subscription{C: ch, ch: ch, session: session, bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[session] == nil {
		b.subs[session] = make(map[*Subscription]struct{})
	}
	b.subs[session][sub] = struct{}{}
	return sub
}

// Subscribers reports how many subscribers session has.
func (b *Bus) Subscribers(session string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[session])
}

// Close unregisters the subscription and closes C. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[s.session], s)
		if len(b.subs[s.session]) == 0 {
			delete(b.subs, s.session)
		}
		close(s.ch)
	})
}

// Fanout publishes every event to each sink in order.
type Fanout []wizard.EventSink

func (f Fanout) Publish(ctx context.Context, evt wizard.Event) {
	for _, sink := range f {
		if sink != nil {
			sink.Publish(ctx, evt)
		}
	}
}
