package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeMaster/reqtrace/internal/apperr"
	"github.com/codeMaster/reqtrace/internal/model"
	"github.com/codeMaster/reqtrace/internal/protocol"
	"github.com/gorilla/websocket"
)

type State int32

const (
	Connecting State = iota
	Open
	Registered
	Closed
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
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Session is one client connection. Reads happen on the goroutine running
// run; writes come from that goroutine, the hub's writer and the pinger, so
// every write goes through writeMu.
type Session struct {
	id    string
	srv   *Server
	conn  *websocket.Conn
	state atomic.Int32

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func newSession(srv *Server, id string, conn *websocket.Conn) *Session {
	s := &Session{id: id, srv: srv, conn: conn, done: make(chan struct{})}
	s.state.Store(int32(Connecting))
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) run() {
	log := s.srv.logger.With("client_id", s.id)
	if err := s.srv.hub.Connect(s.id, s); err != nil {
		log.Error("hub connect", "error", err)
		s.Close()
		return
	}
	s.state.Store(int32(Open))
	log.Info("client connected")

	defer func() {
		s.srv.hub.Disconnect(s.id)
		s.Close()
		log.Info("client disconnected")
	}()

	pongWait := 2 * s.srv.pingInterval
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go s.ping()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("read failed", "error", err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.handle(data)
	}
}

func (s *Session) ping() {
	ticker := time.NewTicker(s.srv.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.srv.writeTimeout))
			s.writeMu.Unlock()
			if err != nil {
				s.Close()
				return
			}
		}
	}
}

func (s *Session) handle(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		s.replyError("", "", apperr.Invalid(err.Error()))
		return
	}
	switch env.Type {
	case protocol.Register:
		s.register(env)
	case protocol.Status:
		s.status(env)
	case protocol.ProjectSubscribe:
		s.subscribe(env)
	case protocol.ProjectUnsubscribe:
		s.unsubscribe(env)
	case protocol.Unknown:
		s.srv.logger.Warn("unknown message type", "client_id", s.id, "type", env.RawType)
		s.replyError(env.Source, env.RawType, apperr.Invalid("unknown message type "+env.RawType))
	default:
		s.replyError(env.Source, string(env.Type), apperr.Invalid(string(env.Type)+" is not accepted from clients"))
	}
}

func (s *Session) register(env protocol.Envelope) {
	var p protocol.RegisterPayload
	if err := env.Into(&p); err != nil {
		s.replyError(env.Source, string(env.Type), apperr.Invalid(err.Error()))
		return
	}
	s.state.CompareAndSwap(int32(Open), int32(Registered))
	s.srv.logger.Info("client registered", "client_id", s.id, "source", env.Source, "name", p.ClientName)
	s.reply(protocol.Welcome, env.Source, protocol.WelcomePayload{
		ClientID: s.id,
		Message:  "Connected to the requirements tracker",
		Instance: s.srv.hub.Instance(),
	})
}

func (s *Session) status(env protocol.Envelope) {
	projects := s.srv.dir.ProjectCount()
	conns := s.srv.hub.Stats().Connections
	s.reply(protocol.Response, env.Source, protocol.ResponsePayload{
		Status:       "ok",
		RequestType:  string(protocol.Status),
		Service:      ServiceName,
		Version:      s.srv.version,
		ProjectCount: &projects,
		Connections:  &conns,
	})
}

func (s *Session) subscribe(env protocol.Envelope) {
	req := string(env.Type)
	if s.State() != Registered {
		s.replyError(env.Source, req, apperr.Invalid("REGISTER before subscribing"))
		return
	}
	var p protocol.SubscribePayload
	if err := env.Into(&p); err != nil {
		s.replyError(env.Source, req, apperr.Invalid(err.Error()))
		return
	}
	if p.ProjectID == "" {
		s.replyError(env.Source, req, apperr.Invalid("missing project_id in subscription request"))
		return
	}
	if _, err := s.srv.dir.GetProject(p.ProjectID); err != nil {
		s.replyError(env.Source, req, err)
		return
	}
	since := p.Since
	if p.Instance != s.srv.hub.Instance() {
		since = 0
	}
	if err := s.srv.hub.SubscribeFrom(s.id, p.ProjectID, since); err != nil {
		s.replyError(env.Source, req, err)
		return
	}
	s.reply(protocol.Response, env.Source, protocol.ResponsePayload{
		Status:       "subscribed",
		RequestType:  req,
		ProjectID:    p.ProjectID,
		ReplayedFrom: since,
	})
}

func (s *Session) unsubscribe(env protocol.Envelope) {
	var p protocol.SubscribePayload
	if err := env.Into(&p); err != nil || p.ProjectID == "" {
		s.replyError(env.Source, string(env.Type), apperr.Invalid("missing project_id in unsubscribe request"))
		return
	}
	s.srv.hub.Unsubscribe(s.id, p.ProjectID)
	s.reply(protocol.Response, env.Source, protocol.ResponsePayload{
		Status:      "unsubscribed",
		RequestType: string(env.Type),
		ProjectID:   p.ProjectID,
	})
}

func (s *Session) reply(t protocol.MessageType, target string, payload any) {
	env, err := protocol.New(t, ServerSource, payload)
	if err != nil {
		s.srv.logger.Error("encode reply", "client_id", s.id, "error", err)
		return
	}
	env.Target = target
	ctx, cancel := context.WithTimeout(context.Background(), s.srv.writeTimeout)
	defer cancel()
	if err := s.send(ctx, env); err != nil {
		s.srv.logger.Warn("reply failed", "client_id", s.id, "type", t, "error", err)
		s.Close()
	}
}

func (s *Session) replyError(target, requestType string, err error) {
	s.reply(protocol.Error, target, protocol.ErrorPayload{
		Message:     err.Error(),
		Kind:        string(apperr.KindOf(err)),
		RequestType: requestType,
	})
}

// Deliver writes ev as an UPDATE. It is called by the hub's writer for this
// session.
func (s *Session) Deliver(ctx context.Context, ev model.ChangeEvent) error {
	env, err := protocol.New(protocol.Update, ServerSource, protocol.UpdateFor(ev))
	if err != nil {
		return err
	}
	env.Target = s.id
	return s.send(ctx, env)
}

func (s *Session) send(ctx context.Context, env protocol.Envelope) error {
	if s.State() == Closed {
		return errors.New("session closed")
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(s.srv.writeTimeout)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	err := s.conn.WriteJSON(env)
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

// Close ends the session. The read loop notices and unregisters from the hub.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.state.Store(int32(Closed))
		close(s.done)
		err = s.conn.Close()
	})
	return err
}
