package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"verity/internal/monitoring"
)

// Publisher is the part of *nats.Conn the NATS notifier needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes each alert on "<prefix>.<severity>" so consumers can
// subscribe to the severities they care about.
type NATS struct {
	publisher Publisher
	prefix    string
}

func NewNATS(publisher Publisher, prefix string) (*NATS, error) {
	if publisher == nil {
		return nil, errors.New("nats publisher is required")
	}
	if prefix == "" {
		return nil, errors.New("nats subject prefix is required")
	}
	return &NATS{publisher: publisher, prefix: prefix}, nil
}

// ConnectNATS dials the server, retrying in the background if it is not
// reachable yet.
func ConnectNATS(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("verity"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}

func (n *NATS) Notify(ctx context.Context, alert monitoring.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(alert)
	if err != nil {
		return err
	}
	subject := n.prefix + "." + string(alert.Severity)
	if err := n.publisher.Publish(subject, data); err != nil {
		return fmt.Errorf("publish alert %s to %s: %w", alert.ID, subject, err)
	}
	return nil
}
