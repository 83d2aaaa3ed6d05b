package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tinytelemetry/harmonic/internal/decode"
	"github.com/tinytelemetry/harmonic/internal/model"
)

const (
	DefaultSubjectPrefix = "harmonic"
	DefaultStreamName    = "HARMONIC"
)

// NATSConfig configures a NATSPublisher.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	// Stream, when set, is created or updated to capture "<prefix>.>" before
	// the first publish.
	Stream         string
	ConnectTimeout time.Duration
}

// NATSPublisher forwards the canonical wire line of each message to the
// JetStream subject "<prefix>.<Type>".
type NATSPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
}

// DialNATS connects to the server and prepares the stream if one is named.
func DialNATS(ctx context.Context, conf NATSConfig) (*NATSPublisher, error) {
	if strings.TrimSpace(conf.URL) == "" {
		return nil, errors.New("nats: url is empty")
	}
	prefix := strings.Trim(conf.SubjectPrefix, ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	timeout := conf.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	nc, err := nats.Connect(conf.URL, nats.Name("harmonic"), nats.Timeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("nats: connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats: jetstream: %w", err)
	}

	if conf.Stream != "" {
		_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     conf.Stream,
			Subjects: []string{prefix + ".>"},
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("nats: ensure stream %s: %w", conf.Stream, err)
		}
	}

	return &NATSPublisher{nc: nc, js: js, prefix: prefix}, nil
}

// Subject returns the subject a message of the given variant is published to.
func (p *NATSPublisher) Subject(variant string) string {
	return p.prefix + "." + variant
}

func (p *NATSPublisher) Accept(ctx context.Context, msg model.Message) error {
	line, err := decode.Encode(msg)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	if _, err := p.js.Publish(ctx, p.Subject(msg.Type), line); err != nil {
		return fmt.Errorf("nats: publish %s: %w", msg.Type, err)
	}
	return nil
}

// Close flushes pending publishes and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}
