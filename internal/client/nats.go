package client

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/commons-ledger/be-tranche-core/internal/errors"
)

// NATSClient is a thin wrapper over a NATS connection used for audit and
// lifecycle event publishing.
type NATSClient struct {
	conn *nats.Conn
}

// NewNATSClient connects to the NATS server with sane reconnect settings.
func NewNATSClient(url string) (*NATSClient, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeExternal, "failed to connect to NATS")
	}
	return &NATSClient{conn: conn}, nil
}

// Publish sends data on subject.
func (c *NATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeExternal, "publish cancelled")
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return errors.Wrap(err, errors.ErrCodeExternal, "failed to publish event")
	}
	return nil
}

// Close drains and closes the connection.
func (c *NATSClient) Close() {
	if c.conn != nil {
		_ = c.conn.Drain()
	}
}
