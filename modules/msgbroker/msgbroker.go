// Package msgbroker defines the message broker CSRF events are exchanged over.
package msgbroker

import "context"

// DefaultChanBuffer decouples the publisher from the consumer.
// Slow consumers drop messages instead of backpressuring publishers,
// which are request handlers.
const DefaultChanBuffer = 16

// MessageBroker publishes messages and fans them out to all subscribers.
type MessageBroker interface {
	// Subscribe creates a new subscription to the given subjects.
	Subscribe(ctx context.Context, subjects ...string) (Subscription, error)

	// Publish sends a message to a subject.
	Publish(ctx context.Context, subject string, data []byte) error
}

// StreamInitializer is implemented by brokers that need streams
// to be set up before subjects can be published to.
type StreamInitializer interface {
	InitStreams(subjects []string) error
}

// Metrics receives broker instrumentation callbacks.
type Metrics interface {
	OnPublish(subject string)
	OnDeliveryDropped(subject string)
}

// NoMetrics discards all instrumentation callbacks.
type NoMetrics struct{}

func (NoMetrics) OnPublish(string)         {}
func (NoMetrics) OnDeliveryDropped(string) {}

// Subscription is an active subscription.
type Subscription interface {
	// C returns the channel messages are delivered to.
	// The channel is closed by Close.
	C() <-chan Message

	Close()
}

// Message is a received message.
type Message struct {
	Subject string
	Data    []byte
}

// ChanBuffer returns the subscription channel buffer size to use.
func ChanBuffer(configured int) int {
	if configured < 1 {
		return DefaultChanBuffer
	}
	return configured
}
