// Package cmdp implements the CMDP telemetry channel: a topic-tagged PUB
// publisher for logs, metrics and notices, and a subscriber-side listener
// that aggregates topic availability across the fleet and applies a
// global/per-host subscription policy.
package cmdp

import (
	"context"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"constellation/pkg/cerrors"
	"constellation/pkg/wire"
)

// LogTopic builds the topic string for a log record at the given level and
// domain, e.g. "LOG/WARNING/fsm".
func LogTopic(level, domain string) string { return fmt.Sprintf("LOG/%s/%s", level, domain) }

// StatTopic builds the topic string for a named metric.
func StatTopic(name string) string { return "STAT/" + name }

// NoticeTopic builds the topic string for a sender's own notifications,
// such as its topic-availability announcement.
const NoticeTopic = "NOTICE/topics"

// Publisher owns the CMDP PUB socket.
type Publisher struct {
	log  zerolog.Logger
	sock zmq4.Socket
	name string
}

// NewPublisher binds a PUB socket at endpoint.
func NewPublisher(ctx context.Context, endpoint, name string, log zerolog.Logger) (*Publisher, error) {
	sock := zmq4.NewPub(ctx)
	if err := sock.Listen(endpoint); err != nil {
		return nil, &cerrors.NetworkError{Component: "cmdp", Err: fmt.Errorf("listening on %s: %w", endpoint, err)}
	}
	return &Publisher{log: log.With().Str("component", "cmdp.publisher").Logger(), sock: sock, name: name}, nil
}

// Addr returns the socket's bound address.
func (p *Publisher) Addr() net.Addr { return p.sock.Addr() }

// Close releases the socket.
func (p *Publisher) Close() error { return p.sock.Close() }

// Publish emits a single CMDP message on topic, with an optional tags
// dictionary attached to the header.
func (p *Publisher) Publish(topic string, tags *wire.Dictionary, payload []byte) error {
	msg := wire.CMDP1Message{Topic: topic, Sender: p.name, Time: time.Now(), Tags: tags, Payload: payload}
	frames, err := msg.Frames()
	if err != nil {
		return err
	}
	return p.sock.Send(zmq4.NewMsgFrom(frames...))
}

// Log publishes a LOG/<level>/<domain> record. It is the publishing half
// used by the zerolog hook in pkg/logging.
func (p *Publisher) Log(level, domain string, payload []byte) error {
	return p.Publish(LogTopic(level, domain), nil, payload)
}

// Stat publishes a STAT/<name> metric sample.
func (p *Publisher) Stat(name string, payload []byte) error {
	return p.Publish(StatTopic(name), nil, payload)
}

// AnnounceTopics publishes the sender's notification frame: a dictionary of
// topic -> human-readable description for every topic it may emit.
func (p *Publisher) AnnounceTopics(topics map[string]string) error {
	dict := wire.NewDictionary()
	names := make([]string, 0, len(topics))
	for t := range topics {
		names = append(names, t)
	}
	sort.Strings(names)
	for _, t := range names {
		dict.Set(t, wire.StringValue(topics[t]))
	}
	payload, err := msgpack.Marshal(dict)
	if err != nil {
		return err
	}
	return p.Publish(NoticeTopic, nil, payload)
}
