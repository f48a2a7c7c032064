package liveapi

import "sync"

// EventType names the kind of progress event a scan emits.
type EventType string

const (
	EventObjectFound     EventType = "found"
	EventObjectAmbiguous EventType = "ambiguous"
	EventObjectNotFound  EventType = "not_found"
	EventSymbolRecovered EventType = "symbol"
	EventScanComplete    EventType = "complete"
)

// Event is one JSON message a /ws subscriber receives.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}

// Broadcaster fans scan-progress events out to every connected WebSocket
// client. Simplified from per-session subscription filtering to a single
// in-flight scan: this module only ever reports on the one Run a process
// is currently executing, not several concurrent sessions.
type Broadcaster struct {
	mu            sync.RWMutex
	subscriptions map[chan Event]bool
	broadcast     chan Event
	register      chan chan Event
	unregister    chan chan Event
	done          chan struct{}
}

func NewBroadcaster() *Broadcaster {
	b := &Broadcaster{
		subscriptions: make(map[chan Event]bool),
		broadcast:     make(chan Event, 256),
		register:      make(chan chan Event),
		unregister:    make(chan chan Event),
		done:          make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Broadcaster) run() {
	for {
		select {
		case ch := <-b.register:
			b.mu.Lock()
			b.subscriptions[ch] = true
			b.mu.Unlock()

		case ch := <-b.unregister:
			b.mu.Lock()
			if b.subscriptions[ch] {
				delete(b.subscriptions, ch)
				close(ch)
			}
			b.mu.Unlock()

		case event := <-b.broadcast:
			b.mu.RLock()
			for ch := range b.subscriptions {
				select {
				case ch <- event:
				default:
					// slow subscriber, drop the event rather than block the scan
				}
			}
			b.mu.RUnlock()

		case <-b.done:
			b.mu.Lock()
			for ch := range b.subscriptions {
				close(ch)
			}
			b.subscriptions = make(map[chan Event]bool)
			b.mu.Unlock()
			return
		}
	}
}

func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.register <- ch
	return ch
}

func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.unregister <- ch
}

func (b *Broadcaster) Publish(event Event) {
	select {
	case b.broadcast <- event:
	default:
	}
}

func (b *Broadcaster) Close() {
	close(b.done)
}

func (b *Broadcaster) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}
