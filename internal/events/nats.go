package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/wolfman30/proposal-wizard/internal/wizard"
	"github.com/wolfman30/proposal-wizard/pkg/logging"
)

// natsConn is the subset of *nats.Conn the publisher uses.
type natsConn interface {
	Publish(subject string, data []byte) error
}

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	URL            string
	ConnectTimeout time.Duration
}

// ConnectNATS dials the server, retrying in the background until it is reachable.
func ConnectNATS(cfg NATSConfig) (*nats.Conn, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name("proposal-wizard"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect to NATS: %w", err)
	}
	return conn, nil
}

// NATSPublisher forwards wizard events as JSON envelopes on
// "<prefix>.<session>.<kind>".
type NATSPublisher struct {
	conn   natsConn
	prefix string
	logger *logging.Logger
}

func NewNATSPublisher(conn natsConn, prefix string, logger *logging.Logger) *NATSPublisher {
	if conn == nil {
		panic("events: nats connection required")
	}
	if prefix == "" {
		prefix = "wizard"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}
}

// Publish implements wizard.EventSink. nats.Conn buffers writes, so this does not block on the network.
func (p *NATSPublisher) Publish(_ context.Context, evt wizard.Event) {
	env, err := NewEnvelope(evt)
	if err != nil {
		p.logger.Warn("skipping invalid event", "error", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		p.logger.Warn("failed to encode event", "error", err)
		return
	}
	subject := Subject(p.prefix, evt.SessionID, evt.Kind)
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("nats publish failed", "subject", subject, "error", err)
	}
}

// Subject builds the NATS subject of an event. Tokens are sanitized so a
// session id can never add subject levels or wildcards.
func Subject(prefix, session string, kind wizard.EventKind) string {
	return prefix + "." + subjectToken(session) + "." + subjectToken(string(kind))
}

var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_", "\n", "_", "\r", "_")

func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return tokenReplacer.Replace(s)
}
