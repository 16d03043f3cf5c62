package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"
)

type Logger interface {
	Printf(format string, args ...any)
}

// Subscription delivers frames for one channel until Close. Messages is
// closed once the subscription has fully stopped.
type Subscription interface {
	Messages() <-chan Envelope
	Close() error
}

type Transport interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Handlers receive decoded push events. Nil handlers drop their type.
type Handlers struct {
	MemberJoined   func(MemberJoined)
	MemberArrived  func(MemberArrived)
	LocationUpdate func(LocationUpdate)
	Poke           func(Poke)
	EventEnded     func(EventEnded)
}

// Channel keeps at most one live subscription, bound to one event at a time.
// Handlers run on a single goroutine in delivery order and must not call
// Bind or Unbind themselves.
type Channel struct {
	transport Transport
	logger    Logger

	mu      sync.Mutex
	eventID int64
	sub     Subscription
	done    chan struct{}
}

func NewChannel(transport Transport, logger Logger) *Channel {
	if logger == nil {
		logger = log.Default()
	}
	return &Channel{transport: transport, logger: logger}
}

// Bind subscribes to the event's channel. Binding the already bound event is
// a no-op; binding another event releases the previous subscription first.
func (c *Channel) Bind(ctx context.Context, eventID int64, h Handlers) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sub != nil && c.eventID == eventID {
		return nil
	}
	c.unbindLocked()

	sub, err := c.transport.Subscribe(ctx, ChannelName(eventID))
	if err != nil {
		return err
	}
	done := make(chan struct{})
	c.sub = sub
	c.eventID = eventID
	c.done = done

	go c.pump(sub, h, done)
	return nil
}

func (c *Channel) Unbind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unbindLocked()
}

// Bound returns the event currently subscribed to.
func (c *Channel) Bound() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eventID, c.sub != nil
}

func (c *Channel) unbindLocked() {
	if c.sub == nil {
		return
	}
	if err := c.sub.Close(); err != nil {
		c.logger.Printf("[realtime] close %s: %v", ChannelName(c.eventID), err)
	}
	<-c.done
	c.sub = nil
	c.done = nil
	c.eventID = 0
}

func (c *Channel) pump(sub Subscription, h Handlers, done chan struct{}) {
	defer close(done)
	for env := range sub.Messages() {
		if err := Dispatch(env, h); err != nil {
			c.logger.Printf("[realtime] drop %s frame: %v", env.Type, err)
		}
	}
}

// Dispatch decodes one frame and hands it to the matching handler.
func Dispatch(env Envelope, h Handlers) error {
	switch env.Type {
	case TypeMemberJoined:
		return decodeInto(env.Data, h.MemberJoined)
	case TypeMemberArrived:
		return decodeInto(env.Data, h.MemberArrived)
	case TypeLocationUpdate:
		return decodeInto(env.Data, h.LocationUpdate)
	case TypePoke:
		return decodeInto(env.Data, h.Poke)
	case TypeEventEnded:
		return decodeInto(env.Data, h.EventEnded)
	}
	return nil
}

func decodeInto[T any](data json.RawMessage, fn func(T)) error {
	if fn == nil {
		return nil
	}
	var payload T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return err
		}
	}
	fn(payload)
	return nil
}
