package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisTransport subscribes to the event channel over Redis pub/sub.
type RedisTransport struct {
	Client *redis.Client
}

func (t *RedisTransport) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := t.Client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	s := &redisSubscription{
		channel: channel,
		pubsub:  pubsub,
		msgs:    make(chan Envelope, 64),
		closed:  make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Publish sends one envelope on an event's channel.
func (t *RedisTransport) Publish(ctx context.Context, eventID int64, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return t.Client.Publish(ctx, ChannelName(eventID), payload).Err()
}

type redisSubscription struct {
	channel   string
	pubsub    *redis.PubSub
	msgs      chan Envelope
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *redisSubscription) Messages() <-chan Envelope {
	return s.msgs
}

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.pubsub.Close()
	})
	return err
}

func (s *redisSubscription) run() {
	defer close(s.msgs)

	ch := s.pubsub.Channel()
	for {
		select {
		case <-s.closed:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("[realtime] bad frame on %s: %v", s.channel, err)
				continue
			}
			select {
			case s.msgs <- env:
			case <-s.closed:
				return
			}
		}
	}
}
