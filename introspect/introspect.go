// Package introspect implements the read-only HTTP debug endpoint from
// SPEC_FULL.md §6: GET /globals and GET /clients, reporting the server
// endpoint's advertised globals and connected clients as JSON. It never
// appears on the wire and has no effect on protocol behavior.
//
// Grounded on the teacher's gateway_http_server.go (an HTTPGatewayServer
// wrapping a *Network and exposing it over http.ListenAndServe), replacing
// its hand-rolled net/http ServeMux and read/write SDO bridge with
// gin-gonic's router, narrowed to read-only reporting.
package introspect

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wirerealm/wlcore/endpoint/server"
	"github.com/wirerealm/wlcore/maintain"
)

// snapshotTimeout bounds how long a request waits for the event-loop
// goroutine to run a posted snapshot task before reporting failure.
const snapshotTimeout = 2 * time.Second

// GlobalView is one advertised global as reported over HTTP.
type GlobalView struct {
	Name      uint32 `json:"name"`
	Interface string `json:"interface"`
	Version   uint32 `json:"version"`
}

// ClientView is one connected client as reported over HTTP.
type ClientView struct {
	FD            int  `json:"fd"`
	ResourceCount int  `json:"resource_count"`
	Dead          bool `json:"dead"`
}

// Server wraps a gin.Engine bound to addr, reporting on display. Every
// read of display's state is marshalled onto the event-loop goroutine via
// scheduler rather than read directly from the HTTP goroutine, since
// spec §5's single-threaded model gives display's globals/clients no
// locking of their own.
type Server struct {
	display   *server.Display
	scheduler *maintain.Scheduler
	engine    *gin.Engine
	http      *http.Server
}

// New builds the introspection server. It does not start listening until
// ListenAndServe is called.
func New(display *server.Display, scheduler *maintain.Scheduler, addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	s := &Server{display: display, scheduler: scheduler, engine: engine}

	engine.GET("/globals", s.getGlobals)
	engine.GET("/clients", s.getClients)

	s.http = &http.Server{Addr: addr, Handler: engine}
	return s
}

func (s *Server) getGlobals(c *gin.Context) {
	result := make(chan []GlobalView, 1)
	if !s.scheduler.Enqueue(func() {
		globals := s.display.Globals()
		views := make([]GlobalView, len(globals))
		for i, g := range globals {
			views[i] = GlobalView{Name: g.Name, Interface: g.Interface, Version: g.Version}
		}
		result <- views
	}) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "maintenance task queue full"})
		return
	}
	select {
	case views := <-result:
		c.JSON(http.StatusOK, views)
	case <-time.After(snapshotTimeout):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event loop did not respond in time"})
	}
}

func (s *Server) getClients(c *gin.Context) {
	result := make(chan []ClientView, 1)
	if !s.scheduler.Enqueue(func() {
		clients := s.display.Clients()
		views := make([]ClientView, len(clients))
		for i, cl := range clients {
			views[i] = ClientView{FD: cl.FD(), ResourceCount: cl.ResourceCount(), Dead: cl.Dead()}
		}
		result <- views
	}) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "maintenance task queue full"})
		return
	}
	select {
	case views := <-result:
		c.JSON(http.StatusOK, views)
	case <-time.After(snapshotTimeout):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event loop did not respond in time"})
	}
}

// ListenAndServe blocks serving HTTP until the server is shut down or
// fails to bind (the teacher's HTTPGatewayServer.ListenAndServe shape).
func (s *Server) ListenAndServe() error {
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("introspect: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
