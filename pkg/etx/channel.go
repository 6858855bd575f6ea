package etx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
)

// Exchanger sends one command and returns its reply.
type Exchanger interface {
	Exchange(ctx context.Context, cmd Command) (Reply, error)
}

// Channel is a half-duplex request/response channel over a Conn. At most
// one command is in flight; Exchange and Collect hold the lock until their
// replies arrive.
type Channel struct {
	mu      sync.Mutex
	conn    Conn
	timeout time.Duration
	log     *logrus.Entry
	broken  error
}

// NewChannel wraps conn. timeout bounds every wait whose context has no
// deadline of its own; zero disables it.
func NewChannel(conn Conn, timeout time.Duration, log *logrus.Logger) *Channel {
	return &Channel{
		conn:    conn,
		timeout: timeout,
		log:     log.WithField("component", "etx.channel"),
	}
}

func (c *Channel) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Send writes one command.
func (c *Channel) Send(ctx context.Context, cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(ctx, cmd)
}

// Receive blocks for the next inbound message.
func (c *Channel) Receive(ctx context.Context) (Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receive(ctx, "")
}

// Exchange sends cmd and waits for exactly one reply. A reply whose node
// echoes a different correlation token fails with ErrCorrelationMismatch.
func (c *Channel) Exchange(ctx context.Context, cmd Command) (Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.send(ctx, cmd); err != nil {
		return Reply{Kind: ReplyConnectionClosed}, err
	}
	r, err := c.receive(ctx, cmd.Name())
	if err != nil {
		return r, err
	}
	if err := checkCorrelation(r, cmd); err != nil {
		return r, err
	}
	return r, nil
}

// Collect sends cmd and reads until n replies keyed by cmd.Name() arrive.
// Frames keyed by other commands are logged and skipped.
func (c *Channel) Collect(ctx context.Context, cmd Command, n int) ([]Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.send(ctx, cmd); err != nil {
		return nil, err
	}
	out := make([]Reply, 0, n)
	for len(out) < n {
		r, err := c.receive(ctx, cmd.Name())
		if err != nil {
			return out, err
		}
		if !r.Has(cmd.Name()) {
			c.log.WithField("keys", r.Keys()).Debug("skipping unrelated reply")
			continue
		}
		if err := checkCorrelation(r, cmd); err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

func checkCorrelation(r Reply, cmd Command) error {
	want := cmd.MID()
	if want == "" {
		return nil
	}
	if got := r.mid(cmd.Name()); got != "" && got != want {
		return errors.Wrapf(ErrCorrelationMismatch, "%s: sent mid %s, reply mid %s", cmd.Name(), want, got)
	}
	return nil
}

func (c *Channel) send(ctx context.Context, cmd Command) error {
	if c.broken != nil {
		return c.broken
	}
	frame, err := Frame(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.conn.WriteMessage(ctx, frame); err != nil {
		c.broken = asClosed(err)
		return c.broken
	}
	c.log.WithFields(logrus.Fields{"command": cmd.Name(), "mid": cmd.MID(), "bytes": len(frame)}).Debug("sent")
	return nil
}

func (c *Channel) receive(ctx context.Context, command string) (Reply, error) {
	if c.broken != nil {
		return Reply{Kind: ReplyConnectionClosed}, c.broken
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	raw, err := c.conn.ReadMessage(ctx)
	if err != nil {
		// A failed read leaves the stream position unknown.
		c.broken = asClosed(err)
		return Reply{Kind: ReplyConnectionClosed}, c.broken
	}
	r, err := ParseReply(raw)
	if err != nil {
		var pe *ProtocolError
		if errors.As(err, &pe) {
			pe.Command = command
		}
		c.log.WithFields(logrus.Fields{"command": command, "raw": truncate(raw, 512)}).
			Warn("cannot parse reply as JSON")
		return r, err
	}
	return r, nil
}

func asClosed(err error) error {
	if errors.Is(err, ErrConnectionClosed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
