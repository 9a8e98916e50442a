// Package natsjs provides a NATS JetStream backed message broker
// with fan-out delivery semantics.
//
// Messages are persisted to a stream and delivered to subscribers of all
// instances connected to the same NATS cluster.
package natsjs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/romshark/csrfguard/modules/msgbroker"
)

var (
	_ msgbroker.MessageBroker     = (*MessageBroker)(nil)
	_ msgbroker.StreamInitializer = (*MessageBroker)(nil)
)

// DefaultStreamName is the name of the stream created by InitStreams.
const DefaultStreamName = "CSRFGUARD_EVENTS"

type MessageBroker struct {
	nc   *nats.Conn
	js   nats.JetStreamContext
	conf Config
}

type Config struct {
	// StreamConfig is used by InitStreams.
	// Name defaults to DefaultStreamName.
	StreamConfig nats.StreamConfig

	// ChanBuffer is the subscription buffer size.
	// Defaults to msgbroker.DefaultChanBuffer.
	ChanBuffer int

	// Metrics defaults to msgbroker.NoMetrics.
	Metrics msgbroker.Metrics
}

func New(nc *nats.Conn, conf Config) (*MessageBroker, error) {
	conf.ChanBuffer = msgbroker.ChanBuffer(conf.ChanBuffer)
	if conf.Metrics == nil {
		conf.Metrics = msgbroker.NoMetrics{}
	}
	if conf.StreamConfig.Name == "" {
		conf.StreamConfig.Name = DefaultStreamName
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("initializing jetstream: %w", err)
	}
	return &MessageBroker{nc: nc, js: js, conf: conf}, nil
}

// InitStreams creates the stream capturing subjects unless it exists.
func (b *MessageBroker) InitStreams(subjects []string) error {
	conf := b.conf.StreamConfig
	if conf.Description == "" {
		conf.Description = "CSRF events"
	}
	conf.Subjects = subjects

	_, err := b.js.AddStream(&conf)
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("adding stream: %w", err)
	}
	return nil
}

func (b *MessageBroker) Publish(ctx context.Context, subject string, data []byte) error {
	if _, err := b.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return err
	}
	b.conf.Metrics.OnPublish(subject)
	return nil
}

type subscription struct {
	ch    chan msgbroker.Message
	close func()
}

func (b *MessageBroker) Subscribe(
	_ context.Context, subjects ...string,
) (msgbroker.Subscription, error) {
	ch := make(chan msgbroker.Message, b.conf.ChanBuffer)
	subs := make([]*nats.Subscription, 0, len(subjects))

	var (
		lock     sync.Mutex
		closing  bool
		inflight sync.WaitGroup
		once     sync.Once
	)

	closeAll := func() {
		once.Do(func() {
			// No callback registers with inflight after this.
			lock.Lock()
			closing = true
			lock.Unlock()
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			inflight.Wait()
			close(ch)
		})
	}

	for _, subject := range subjects {
		sub, err := b.nc.Subscribe(subject, func(m *nats.Msg) {
			// Add must not race with Wait in closeAll.
			lock.Lock()
			if closing {
				lock.Unlock()
				return
			}
			inflight.Add(1)
			lock.Unlock()
			defer inflight.Done()

			select {
			case ch <- msgbroker.Message{Subject: m.Subject, Data: bytes.Clone(m.Data)}:
			default:
				b.conf.Metrics.OnDeliveryDropped(m.Subject)
			}
		})
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("subscribing to %q: %w", subject, err)
		}
		subs = append(subs, sub)
	}
	return &subscription{ch: ch, close: closeAll}, nil
}

func (s *subscription) C() <-chan msgbroker.Message { return s.ch }

func (s *subscription) Close() { s.close() }
