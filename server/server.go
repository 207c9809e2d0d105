package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-call-relay/auth"
	"github.com/jrsteele09/go-call-relay/calls"
	"github.com/jrsteele09/go-call-relay/groups"
	"github.com/jrsteele09/go-call-relay/internal/config"
	"github.com/jrsteele09/go-call-relay/signaling"
)

// Services are the components the HTTP layer exposes.
type Services struct {
	Auth     *auth.Authenticator
	Relay    *signaling.Relay
	Calls    *calls.Writer
	Groups   *groups.Service
	Gatherer prometheus.Gatherer
}

type Server struct {
	env      string // Environment (e.g., "DEV", "PROD")
	mux      *http.ServeMux
	routes   []string
	config   config.Config
	log      zerolog.Logger
	upgrader websocket.Upgrader

	auth     *auth.Authenticator
	relay    *signaling.Relay
	calls    *calls.Writer
	groups   *groups.Service
	gatherer prometheus.Gatherer

	clientsMu sync.Mutex
	clients   map[*wsClient]struct{}
	clientsWg sync.WaitGroup
}

func New(config config.Config, logger zerolog.Logger, services Services) *Server {
	s := &Server{
		env:      config.GetEnv(),
		mux:      http.NewServeMux(),
		config:   config,
		log:      logger,
		auth:     services.Auth,
		relay:    services.Relay,
		calls:    services.Calls,
		groups:   services.Groups,
		gatherer: services.Gatherer,
		clients:  make(map[*wsClient]struct{}),
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	s.initRoutes()
	s.logRoutes()

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

// CloseConnections closes every live websocket and waits until their
// sessions have been released, or until ctx is done.
func (s *Server) CloseConnections(ctx context.Context) error {
	s.clientsMu.Lock()
	for c := range s.clients {
		c.close()
	}
	s.clientsMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.clientsWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("[Server CloseConnections] %w", ctx.Err())
	}
}

func (s *Server) trackClient(c *wsClient) {
	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()
}

func (s *Server) untrackClient(c *wsClient) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()
}

// checkOrigin accepts non-browser clients and the configured origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	allowed := s.config.GetAllowedOrigins()
	return allowed.IsAllowedOrigin(origin) || allowed.IsAllowedOrigin("*")
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + ResetColor
	} else {
		displayMethod = Gray + paddedMethod + ResetColor
	}
	log.Printf("[%-19s] %s", displayMethod, path)
}
