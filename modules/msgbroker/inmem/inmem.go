// Package inmem provides an in-memory message broker with fan-out
// delivery semantics. Messages to slow subscribers are dropped.
//
// Messages never leave the process, use natsjs in multi-instance deployments.
package inmem

import (
	"bytes"
	"context"
	"sync"

	"github.com/romshark/csrfguard/modules/msgbroker"
)

var _ msgbroker.MessageBroker = (*MessageBroker)(nil)

// Config configures the MessageBroker.
type Config struct {
	// ChanBuffer is the subscription buffer size.
	// Defaults to msgbroker.DefaultChanBuffer.
	ChanBuffer int

	// Metrics defaults to msgbroker.NoMetrics.
	Metrics msgbroker.Metrics
}

// MessageBroker is an in-memory message broker.
type MessageBroker struct {
	chanBuffer int
	metrics    msgbroker.Metrics
	lock       sync.RWMutex
	subs       map[string]map[*subscription]struct{}
}

type subscription struct {
	ch       chan msgbroker.Message
	subjects []string
	broker   *MessageBroker
	closed   bool
}

func New(conf Config) *MessageBroker {
	if conf.Metrics == nil {
		conf.Metrics = msgbroker.NoMetrics{}
	}
	return &MessageBroker{
		chanBuffer: msgbroker.ChanBuffer(conf.ChanBuffer),
		metrics:    conf.Metrics,
		subs:       make(map[string]map[*subscription]struct{}),
	}
}

func (b *MessageBroker) Publish(_ context.Context, subject string, data []byte) error {
	b.lock.RLock()
	defer b.lock.RUnlock()

	b.metrics.OnPublish(subject)
	subs := b.subs[subject]
	if len(subs) == 0 {
		return nil
	}

	msg := msgbroker.Message{Subject: subject, Data: bytes.Clone(data)}
	for sub := range subs {
		select {
		case sub.ch <- msg:
		default:
			b.metrics.OnDeliveryDropped(subject)
		}
	}
	return nil
}

func (b *MessageBroker) Subscribe(
	_ context.Context, subjects ...string,
) (msgbroker.Subscription, error) {
	sub := &subscription{
		ch:       make(chan msgbroker.Message, b.chanBuffer),
		subjects: subjects,
		broker:   b,
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	for _, subject := range subjects {
		m, ok := b.subs[subject]
		if !ok {
			m = make(map[*subscription]struct{})
			b.subs[subject] = m
		}
		m[sub] = struct{}{}
	}
	return sub, nil
}

func (s *subscription) C() <-chan msgbroker.Message { return s.ch }

// Close is serialized with Publish by the broker lock,
// nothing is sent to the channel after it's closed.
func (s *subscription) Close() {
	b := s.broker
	b.lock.Lock()
	defer b.lock.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for _, subject := range s.subjects {
		if m, ok := b.subs[subject]; ok {
			delete(m, s)
			if len(m) == 0 {
				delete(b.subs, subject)
			}
		}
	}
	close(s.ch)
}
