// Package events carries jackpot updates and operator alerts out of the
// engine. Subscribers receive events over channels; slow subscribers miss
// events rather than block a spin.
package events

import (
	"context"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Type names an event
type Type string

const (
	TypeJackpotUpdated Type = "jackpot.updated"
	TypeJackpotWon     Type = "jackpot.won"
	TypeAlert          Type = "alert"
)

// Alert kinds
const (
	AlertCreditUnconfirmed  = "credit_unconfirmed"
	AlertJackpotUnconfirmed = "jackpot_award_unconfirmed"
	AlertRNGHealth          = "rng_health"
	AlertSpinUnrecorded     = "spin_unrecorded"
)

// Event is one published notification
type Event struct {
	Type      Type                   `json:"type"`
	GameID    string                 `json:"game_id,omitempty"`
	JackpotID string                 `json:"jackpot_id,omitempty"`
	Amount    decimal.Decimal        `json:"amount"`
	Currency  string                 `json:"currency,omitempty"`
	PlayerID  string                 `json:"player_id,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	SpinID    string                 `json:"spin_id,omitempty"`
	Alert     string                 `json:"alert,omitempty"`
	Severity  string                 `json:"severity,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Origin    string                 `json:"origin,omitempty"`
	At        time.Time              `json:"at"`
}

// Encode returns the wire form of e
func Encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses the wire form of an event
func Decode(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}

// Publisher accepts events. Publish must not block on slow consumers.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Nop discards every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Fanout publishes to every publisher in order
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, e Event) {
	for _, p := range f {
		p.Publish(ctx, e)
	}
}

// Broker is the in-process event hub
type Broker struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	next   int
	closed bool
}

// NewBroker creates an empty broker
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given buffer. The returned
// cancel func unregisters it and closes the channel.
func (b *Broker) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers e to every subscriber with room in its buffer
func (b *Broker) Publish(_ context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
