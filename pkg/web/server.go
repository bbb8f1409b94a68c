package web

import (
	"context"
	"crypto/tls"
	"net/http"

	"github.com/gin-gonic/gin"
	"harnscabinet/cmd/cabinet/config"
	"harnscabinet/cmd/cabinet/options"
	"harnscabinet/pkg/cabinet"
	"harnscabinet/pkg/generic"
	"harnscabinet/pkg/system"
	"k8s.io/klog/v2"
)

type Server struct {
	*generic.Server
	*config.Config
}

func NewServer(router *gin.Engine, o *options.Options, config *config.Config) (*Server, error) {
	allowMethods := []string{http.MethodPost, http.MethodGet, http.MethodDelete, http.MethodPut, http.MethodPatch}

	s := &generic.Server{
		Router:  router,
		Port:    o.Port,
		Methods: allowMethods,
	}

	server := &Server{
		Server: s,
		Config: config,
	}

	server.InstallHandlers()

	return server, nil
}

func (s *Server) InstallHandlers() {
	s.Router.Use(s.AllowMethods())
	v1 := s.Router.Group("/api/v1")
	cabinet.InstallHandler(v1, s.Config.Cabinet)
	system.InstallHandler(v1, s.Config.Cabinet.System())
}

func (s *Server) tlsConfig() (*tls.Config, error) {
	if len(s.Config.CertFile) == 0 || len(s.Config.KeyFile) == 0 {
		return nil, nil
	}
	x509KeyPair, err := tls.LoadX509KeyPair(s.Config.CertFile, s.Config.KeyFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{x509KeyPair}}, nil
}

// Serve starts the listener and the cabinet. The returned func stops the
// listener first so no request reaches a cabinet that is shutting down.
func (s *Server) Serve() (func(ctx context.Context), error) {
	c, err := s.tlsConfig()
	if err != nil {
		return nil, err
	}
	srv := s.HTTPServer(c)
	go func() {
		var err error
		if c != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			klog.ErrorS(err, "HTTP server stopped", "addr", srv.Addr)
		}
	}()

	s.Config.Cabinet.Run()

	return func(ctx context.Context) {
		srv.SetKeepAlivesEnabled(false)
		if err := srv.Shutdown(ctx); err != nil {
			klog.ErrorS(err, "Failed to shut down HTTP server")
		}
		if err := s.Config.Cabinet.Shutdown(ctx); err != nil {
			klog.ErrorS(err, "Failed to shut down cabinet")
		}
	}, nil
}
