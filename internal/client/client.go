// Package client is the subscriber side of the real-time protocol: it keeps
// a WebSocket to the server open, re-subscribes after reconnecting and
// re-fetches the requirement being watched when it changes.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/codeMaster/reqtrace/internal/model"
	"github.com/codeMaster/reqtrace/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type State int32

const (
	Connecting State = iota
	Open
	Registered
	Closed
	Reconnecting
	// Disconnected is terminal for automatic retry; Start tries again.
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Registered:
		return "registered"
	case Closed:
		return "closed"
	case Reconnecting:
		return "reconnecting"
	case Disconnected:
		return "disconnected"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

const (
	BaseDelay   = time.Second
	MaxDelay    = 30 * time.Second
	MaxAttempts = 5
)

// ReconnectDelay is min(BaseDelay * 2^attempt, MaxDelay).
func ReconnectDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return MaxDelay
	}
	return min(BaseDelay<<attempt, MaxDelay)
}

// newPolicy yields ReconnectDelay(1..MaxAttempts) and then backoff.Stop.
func newPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = ReconnectDelay(1)
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, MaxAttempts)
}

// Conn is the slice of *websocket.Conn the client uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer dials with gorilla's dialer.
type WebSocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type Timer interface {
	Stop() bool
}

// Fetcher loads entity details after an update names them.
type Fetcher interface {
	Requirement(ctx context.Context, projectID, id string) (*model.Requirement, error)
}

type Options struct {
	URL    string
	Source string
	Name   string
	Dialer Dialer
	// AfterFunc schedules reconnects; defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) Timer
	Fetcher   Fetcher

	OnState       func(State)
	OnUpdate      func(protocol.UpdatePayload)
	OnRequirement func(*model.Requirement, error)
	// OnMessage receives RESPONSE and ERROR envelopes.
	OnMessage func(protocol.Envelope)
	Logger    *slog.Logger
}

type Client struct {
	opts   Options
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	writeMu sync.Mutex

	mu       sync.Mutex
	state    State
	attempt  int
	policy   backoff.BackOff
	timer    Timer
	conn     Conn
	closed   bool
	instance string
	// last seq seen per subscribed project
	projects     map[string]uint64
	watchProject string
	watchReq     string
	changes      []State
}

func New(opts Options) *Client {
	if opts.Source == "" {
		opts.Source = "watch_" + uuid.NewString()
	}
	if opts.Dialer == nil {
		opts.Dialer = WebSocketDialer{}
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:     opts,
		logger:   opts.Logger.With("component", "client", "source", opts.Source),
		ctx:      ctx,
		cancel:   cancel,
		state:    Closed,
		policy:   newPolicy(),
		projects: make(map[string]uint64),
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempt is the number of consecutive failed connection attempts.
func (c *Client) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// Instance is the server instance announced in the last WELCOME.
func (c *Client) Instance() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instance
}

func (c *Client) setState(s State) {
	c.state = s
	c.changes = append(c.changes, s)
}

// unlock releases mu and then reports the state changes made while it was
// held.
func (c *Client) unlock() {
	changes := c.changes
	c.changes = nil
	c.mu.Unlock()
	if c.opts.OnState != nil {
		for _, s := range changes {
			c.opts.OnState(s)
		}
	}
}

// Start dials the server. Failures are retried in the background with the
// reconnect policy. Calling Start on a Disconnected client starts over.
func (c *Client) Start() {
	c.mu.Lock()
	if c.closed || (c.state != Closed && c.state != Disconnected) {
		c.mu.Unlock()
		return
	}
	c.attempt = 0
	c.policy.Reset()
	c.mu.Unlock()
	c.connect()
}

func (c *Client) connect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.setState(Connecting)
	c.unlock()

	conn, err := c.opts.Dialer.Dial(c.ctx, c.opts.URL)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.logger.Warn("dial failed", "url", c.opts.URL, "attempt", c.attempt, "error", err)
		c.failLocked()
		c.unlock()
		return
	}
	c.conn = conn
	c.attempt = 0
	c.policy.Reset()
	c.setState(Open)
	c.wg.Add(1)
	c.unlock()

	go c.read(conn)
	if err := c.send(conn, protocol.Register, protocol.RegisterPayload{ClientID: c.opts.Source, ClientName: c.opts.Name}); err != nil {
		conn.Close()
	}
}

// failLocked records a failed or lost connection and schedules the next
// attempt, or gives up once the policy is exhausted.
func (c *Client) failLocked() {
	c.setState(Closed)
	c.attempt++
	delay := c.policy.NextBackOff()
	if delay == backoff.Stop {
		c.setState(Disconnected)
		c.logger.Warn("giving up reconnecting", "attempts", c.attempt-1)
		return
	}
	c.setState(Reconnecting)
	c.logger.Info("reconnect scheduled", "attempt", c.attempt, "delay", delay)
	c.timer = c.opts.AfterFunc(delay, c.connect)
}

func (c *Client) read(conn Conn) {
	defer c.wg.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.lost(conn, err)
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("bad frame", "error", err)
			continue
		}
		c.dispatch(conn, env)
	}
}

func (c *Client) lost(conn Conn, err error) {
	c.mu.Lock()
	if c.conn != conn || c.closed {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.logger.Warn("connection lost", "error", err)
	c.failLocked()
	c.unlock()
}

func (c *Client) dispatch(conn Conn, env protocol.Envelope) {
	switch env.Type {
	case protocol.Welcome:
		var w protocol.WelcomePayload
		if err := env.Into(&w); err != nil {
			c.logger.Warn("bad welcome", "error", err)
			return
		}
		c.mu.Lock()
		c.setState(Registered)
		prev := c.instance
		c.instance = w.Instance
		subs := make([]protocol.SubscribePayload, 0, len(c.projects))
		for p, seq := range c.projects {
			if prev != w.Instance {
				seq = 0
				c.projects[p] = 0
			}
			subs = append(subs, protocol.SubscribePayload{ProjectID: p, Since: seq, Instance: w.Instance})
		}
		c.unlock()
		for _, sub := range subs {
			if err := c.send(conn, protocol.ProjectSubscribe, sub); err != nil {
				conn.Close()
				return
			}
		}
	case protocol.Update:
		var u protocol.UpdatePayload
		if err := env.Into(&u); err != nil {
			c.logger.Warn("bad update", "error", err)
			return
		}
		c.mu.Lock()
		last, ok := c.projects[u.ProjectID]
		if !ok || (u.Seq != 0 && u.Seq <= last) {
			c.mu.Unlock()
			return
		}
		c.projects[u.ProjectID] = u.Seq
		refetch := u.Type == protocol.RequirementUpdate &&
			u.ProjectID == c.watchProject && u.EntityID == c.watchReq && c.watchReq != ""
		c.mu.Unlock()

		if c.opts.OnUpdate != nil {
			c.opts.OnUpdate(u)
		}
		if refetch {
			c.refetch(u.ProjectID, u.EntityID)
		}
	case protocol.Response, protocol.Error:
		if env.Type == protocol.Error {
			c.logger.Warn("server error", "payload", string(env.Payload))
		}
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(env)
		}
	default:
		c.logger.Debug("ignored message", "type", env.Type, "raw_type", env.RawType)
	}
}

func (c *Client) refetch(projectID, id string) {
	if c.opts.Fetcher == nil || c.opts.OnRequirement == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		r, err := c.opts.Fetcher.Requirement(c.ctx, projectID, id)
		if c.ctx.Err() != nil {
			return
		}
		c.opts.OnRequirement(r, err)
	}()
}

func (c *Client) send(conn Conn, t protocol.MessageType, payload any) error {
	env, err := protocol.New(t, c.opts.Source, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(env); err != nil {
		c.logger.Warn("write failed", "type", t, "error", err)
		return err
	}
	return nil
}

// Subscribe asks for updates of projectID, now if registered and again
// after every reconnect.
func (c *Client) Subscribe(projectID string) error {
	return c.Watch(projectID, "")
}

// Watch subscribes to projectID and marks requirementID as the entity being
// viewed: every requirement_update naming it triggers a re-fetch.
func (c *Client) Watch(projectID, requirementID string) error {
	if projectID == "" {
		return fmt.Errorf("project id is required")
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client closed")
	}
	c.watchProject, c.watchReq = projectID, requirementID
	_, known := c.projects[projectID]
	if !known {
		c.projects[projectID] = 0
	}
	conn := c.conn
	registered := c.state == Registered
	instance := c.instance
	c.mu.Unlock()

	if known || !registered || conn == nil {
		return nil
	}
	return c.send(conn, protocol.ProjectSubscribe, protocol.SubscribePayload{ProjectID: projectID, Instance: instance})
}

// Close cancels any pending reconnect, closes the connection and waits for
// in-flight callbacks.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.setState(Closed)
	c.unlock()

	c.cancel()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.wg.Wait()
	return err
}
