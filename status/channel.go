package status

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/gorilla/websocket"
)

// Options configures the status channel.
type Options struct {
	DialAttempts     uint
	DialWait         time.Duration
	HandshakeTimeout time.Duration
	// Buffer is the capacity of the events channel. Events arriving while it is full are dropped.
	Buffer   int
	Insecure bool
}

// DefaultOptions ...
func DefaultOptions() Options {
	return Options{
		DialAttempts:     3,
		DialWait:         time.Second,
		HandshakeTimeout: 10 * time.Second,
		Buffer:           64,
	}
}

// Channel opens status subscriptions.
type Channel struct {
	opts   Options
	dialer *websocket.Dialer
	logger log.Logger
}

// NewChannel ...
func NewChannel(opts Options, logger log.Logger) *Channel {
	if opts.DialAttempts < 1 {
		opts.DialAttempts = 1
	}
	if opts.Buffer < 1 {
		opts.Buffer = 1
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	if opts.Insecure {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &Channel{opts: opts, dialer: dialer, logger: logger}
}

// Subscribe starts following streamID on the channel at rawURL and returns without waiting
// for the connection. An empty rawURL yields an already finished subscription.
func (c *Channel) Subscribe(ctx context.Context, rawURL, streamID string) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		events: make(chan Event, c.opts.Buffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	if rawURL == "" {
		c.logger.Debugf("No status channel for stream %s", streamID)
		s.finish(nil)
		cancel()
		return s
	}

	go func() {
		defer cancel()
		s.finish(c.follow(ctx, s, rawURL, streamID))
	}()

	return s
}

func (c *Channel) follow(ctx context.Context, s *Subscription, rawURL, streamID string) error {
	conn, err := c.dial(ctx, rawURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warnf("Status channel unavailable: %s", err)
		return err
	}
	c.logger.Debugf("Status channel connected for stream %s", streamID)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-stop:
		}
	}()
	defer func() {
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debugf("Status channel closed by server")
				return nil
			}
			c.logger.Warnf("Status channel read failed: %s", err)
			return err
		}

		event, err := parseEvent(data, time.Now())
		if err != nil {
			c.logger.Debugf("Ignoring status message: %s", err)
			continue
		}
		if event.StreamID != "" && event.StreamID != streamID {
			continue
		}

		if !s.publish(event) {
			c.logger.Warnf("Status event dropped, consumer is not keeping up")
		}
		c.logger.Debugf("Status: type=%s status=%s message=%s", event.Type, event.Status, event.Message)

		if event.Terminal() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return nil
		}
	}
}

func (c *Channel) dial(ctx context.Context, rawURL string) (*websocket.Conn, error) {
	var conn *websocket.Conn
	err := retry.Times(c.opts.DialAttempts-1).Wait(c.opts.DialWait).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			c.logger.Debugf("Retrying status channel connection (attempt %d)", attempt+1)
		}

		var resp *http.Response
		var err error
		conn, resp, err = c.dialer.DialContext(ctx, rawURL, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err == nil {
			return nil, false
		}
		if ctx.Err() != nil {
			return ctx.Err(), true
		}
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return fmt.Errorf("handshake rejected (HTTP %d)", resp.StatusCode), true
		}
		return err, false
	})
	return conn, err
}

// Subscription is a running status subscription.
type Subscription struct {
	events chan Event
	done   chan struct{}
	cancel context.CancelFunc

	mu       sync.Mutex
	err      error
	last     Event
	received bool
}

// Events delivers status events. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Done is closed once the subscription has ended and its goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason the channel failed, nil for a clean end or cancellation.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Last returns the most recent event, if any.
func (s *Subscription) Last() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.received
}

// Wait blocks until the subscription ends or ctx is done, and returns the last event seen.
func (s *Subscription) Wait(ctx context.Context) (Event, bool) {
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	return s.Last()
}

// Close stops the subscription and waits for it to release the connection.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

func (s *Subscription) publish(event Event) bool {
	s.mu.Lock()
	s.last = event
	s.received = true
	s.mu.Unlock()

	select {
	case s.events <- event:
		return true
	default:
		return false
	}
}

func (s *Subscription) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()

	close(s.events)
	close(s.done)
}
