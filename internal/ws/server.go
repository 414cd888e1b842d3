// Package ws serves the real-time protocol: one Session per WebSocket,
// registered with the hub as the sink for its subscriptions.
package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/codeMaster/reqtrace/internal/hub"
	"github.com/codeMaster/reqtrace/internal/model"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	ServerSource = "SERVER"
	ServiceName  = "reqtrace"

	DefaultWriteTimeout = 10 * time.Second
	DefaultPingInterval = 30 * time.Second
	maxMessageSize      = 64 << 10
)

// Directory is the part of the store a session consults.
type Directory interface {
	GetProject(id string) (*model.Project, error)
	ProjectCount() int
}

type Options struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	Version      string
	// CheckOrigin defaults to accepting every origin, matching the CORS policy.
	CheckOrigin func(r *http.Request) bool
	Logger      *slog.Logger
}

type Server struct {
	hub          *hub.Hub
	dir          Directory
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	pingInterval time.Duration
	version      string
	logger       *slog.Logger
}

func NewServer(h *hub.Hub, dir Directory, opts Options) *Server {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.CheckOrigin == nil {
		opts.CheckOrigin = func(*http.Request) bool { return true }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		hub: h,
		dir: dir,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     opts.CheckOrigin,
		},
		writeTimeout: opts.WriteTimeout,
		pingInterval: opts.PingInterval,
		version:      opts.Version,
		logger:       opts.Logger.With("component", "ws"),
	}
}

// GET /ws
func (s *Server) Handle(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Warn("upgrade failed", "remote", c.ClientIP(), "error", err)
		return
	}
	sess := newSession(s, "client_"+uuid.NewString(), conn)
	sess.run()
}
