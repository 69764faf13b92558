// Package admin serves a read-only HTTP view of the plugin host's registry.
package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/guseggert/plughost/plugin"
	"github.com/guseggert/plughost/registry"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

type Server struct {
	logger     *zap.SugaredLogger
	reg        *registry.Registry
	listenAddr string
	started    time.Time

	mut        sync.Mutex
	httpServer *http.Server
}

type Option func(s *Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l.Named("admin").Sugar()
	}
}

func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

func New(reg *registry.Registry, opts ...Option) *Server {
	s := &Server{
		logger:     zap.NewNop().Sugar(),
		reg:        reg,
		listenAddr: "127.0.0.1:8080",
		started:    time.Now(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type PluginStatus struct {
	ID       string
	Name     string
	Dir      string
	OSPID    int
	PID      *int
	Commands []string
}

type ConnectionStatus struct {
	Address  string
	Nickname string
	Username string
	Channels []string
}

func pluginStatus(p plugin.Plugin) PluginStatus {
	return PluginStatus{
		ID:       p.ID.String(),
		Name:     p.Name,
		Dir:      p.Dir,
		OSPID:    p.Process().OSPid(),
		PID:      p.Pid,
		Commands: p.Commands,
	}
}

// Handler returns the admin routes.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/healthz", s.healthz)
	router.GET("/plugins", s.plugins)
	router.GET("/plugins/:name", s.plugin)
	router.GET("/connections", s.connections)
	return router
}

// Run serves until Stop is called.
func (s *Server) Run() error {
	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	s.logger.Infow("serving admin API", "Addr", listener.Addr().String())

	server := &http.Server{Handler: s.Handler()}
	s.mut.Lock()
	s.httpServer = server
	s.mut.Unlock()

	err = server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop() error {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.writeJSON(w, http.StatusOK, struct {
		Plugins     int
		Connections int
		Uptime      string
	}{
		Plugins:     len(s.reg.Plugins()),
		Connections: len(s.reg.Connections()),
		Uptime:      time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) plugins(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	statuses := []PluginStatus{}
	for _, p := range s.reg.Plugins() {
		statuses = append(statuses, pluginStatus(p))
	}
	s.writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) plugin(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	name := params.ByName("name")
	for _, p := range s.reg.Plugins() {
		if p.Name != name {
			continue
		}
		s.writeJSON(w, http.StatusOK, pluginStatus(p))
		return
	}
	http.Error(w, "no such plugin", http.StatusNotFound)
}

func (s *Server) connections(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	statuses := []ConnectionStatus{}
	for _, c := range s.reg.Connections() {
		statuses = append(statuses, ConnectionStatus{
			Address:  c.Address(),
			Nickname: c.Nickname(),
			Username: c.Username(),
			Channels: c.Channels(),
		})
	}
	s.writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.logger.Debugf("error marshaling response: %s", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(b)
}
