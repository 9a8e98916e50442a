// Package csrfevents publishes rejected CSRF checks to a message broker
// for auditing. Events of all instances can be consumed in one place
// when a networked broker is used.
package csrfevents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/romshark/csrfguard"
	"github.com/romshark/csrfguard/modules/msgbroker"
)

// SubjectPrefix prefixes the subjects rejections are published to.
const SubjectPrefix = "csrfguard.rejected."

// Subject returns the subject rejections on channel are published to.
func Subject(channel csrfguard.Channel) string { return SubjectPrefix + string(channel) }

// Subjects returns the subjects of all channels.
func Subjects() []string {
	return []string{
		Subject(csrfguard.ChannelForm),
		Subject(csrfguard.ChannelHeader),
	}
}

// Event is a rejected CSRF check.
// It never contains token values or error messages.
type Event struct {
	Time       time.Time         `json:"time"`
	Channel    csrfguard.Channel `json:"channel"`
	Result     string            `json:"result"`
	Status     int               `json:"status"`
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	RemoteAddr string            `json:"remoteAddr"`
}

var _ csrfguard.Observer = (*Publisher)(nil)

const (
	DefaultQueueSize      = 256
	DefaultPublishTimeout = 5 * time.Second
)

// Config configures a Publisher.
type Config struct {
	// QueueSize bounds the number of events waiting to be published,
	// events are dropped while the queue is full.
	// Defaults to DefaultQueueSize.
	QueueSize int

	// PublishTimeout bounds every publish.
	// Defaults to DefaultPublishTimeout.
	PublishTimeout time.Duration
}

type outgoing struct {
	subject string
	data    []byte
}

// Publisher is a csrfguard.Observer publishing an Event per rejection.
// Events are published in the background, detached from the request.
type Publisher struct {
	broker  msgbroker.MessageBroker
	log     *slog.Logger
	now     func() time.Time
	timeout time.Duration

	queue     chan outgoing
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Publisher and starts its background worker,
// Close stops it. Streams are initialized if b is a msgbroker.StreamInitializer.
func New(b msgbroker.MessageBroker, log *slog.Logger, conf Config) (*Publisher, error) {
	if si, ok := b.(msgbroker.StreamInitializer); ok {
		if err := si.InitStreams(Subjects()); err != nil {
			return nil, fmt.Errorf("initializing streams: %w", err)
		}
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if conf.QueueSize < 1 {
		conf.QueueSize = DefaultQueueSize
	}
	if conf.PublishTimeout <= 0 {
		conf.PublishTimeout = DefaultPublishTimeout
	}
	p := &Publisher{
		broker:  b,
		log:     log,
		now:     time.Now,
		timeout: conf.PublishTimeout,
		queue:   make(chan outgoing, conf.QueueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go p.run()
	return p, nil
}

func (p *Publisher) OnVerified(*http.Request, csrfguard.Channel) {}

// OnRejected queues the rejection for publishing. It never blocks,
// the event is dropped if the queue is full.
func (p *Publisher) OnRejected(r *http.Request, ch csrfguard.Channel, err error) {
	data, errMarshal := json.Marshal(Event{
		Time:       p.now().UTC(),
		Channel:    ch,
		Result:     csrfguard.ResultOf(err),
		Status:     csrfguard.StatusCode(err),
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
	})
	if errMarshal != nil {
		p.log.Error("encoding csrf event", slog.Any("err", errMarshal))
		return
	}
	select {
	case p.queue <- outgoing{subject: Subject(ch), data: data}:
	default:
		p.log.Warn("dropping csrf event, queue full",
			slog.String("subject", Subject(ch)))
	}
}

// Close publishes the events still queued and stops the worker.
// Events rejected after Close are never published.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() { close(p.stop) })
	<-p.done
}

func (p *Publisher) run() {
	defer close(p.done)
	for {
		select {
		case o := <-p.queue:
			p.publish(o)
		case <-p.stop:
			for {
				select {
				case o := <-p.queue:
					p.publish(o)
				default:
					return
				}
			}
		}
	}
}

// publish failures are logged, they never affect the response.
func (p *Publisher) publish(o outgoing) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.broker.Publish(ctx, o.subject, o.data); err != nil {
		p.log.Warn("publishing csrf event",
			slog.String("subject", o.subject),
			slog.Any("err", err))
	}
}

// Subscription receives rejection events.
type Subscription struct {
	sub msgbroker.Subscription
	log *slog.Logger
}

// Subscribe subscribes to the rejections of all channels.
func Subscribe(
	ctx context.Context, b msgbroker.MessageBroker, log *slog.Logger,
) (*Subscription, error) {
	sub, err := b.Subscribe(ctx, Subjects()...)
	if err != nil {
		return nil, fmt.Errorf("subscribing: %w", err)
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Subscription{sub: sub, log: log}, nil
}

// Run calls fn for every event until ctx is canceled
// or the subscription is closed. Malformed messages are logged and skipped.
func (s *Subscription) Run(ctx context.Context, fn func(Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-s.sub.C():
			if !ok {
				return nil
			}
			var e Event
			if err := json.Unmarshal(m.Data, &e); err != nil {
				s.log.Warn("decoding csrf event",
					slog.String("subject", m.Subject),
					slog.Any("err", err))
				continue
			}
			fn(e)
		}
	}
}

func (s *Subscription) Close() { s.sub.Close() }
