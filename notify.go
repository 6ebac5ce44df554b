package pgconn

import (
	"context"

	"github.com/php-pg/pgconn/internal/wireproto"
)

// WaitForNotification blocks until a NotificationResponse arrives,
// processing any other messages normally (applying their side effects,
// including dispatching to OnNotice/OnNotification) along the way.
func (c *Conn) WaitForNotification(ctx context.Context) (*Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Cancelled{}
	}
	if err := c.lock(); err != nil {
		return nil, err
	}
	defer func() { _ = c.unlock() }()

	for {
		msg, err := c.receiveMessage(ctx)
		if err != nil {
			return nil, err
		}
		if m, ok := msg.(wireproto.NotificationResponse); ok {
			return &Notification{PID: m.PID, Channel: m.Channel, Payload: m.Payload}, nil
		}
	}
}
