package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/freightaudit/internal/config"
)

const (
	listenErrorTemplateConstant       = "failed to listen on %s: %w"
	serveErrorTemplateConstant        = "HTTP server failed: %w"
	shutdownErrorTemplateConstant     = "HTTP server shutdown failed: %w"
	serverListeningLogMessageConstant = "HTTP server listening"
	serverStoppingLogMessageConstant  = "HTTP server stopping"
	addressLogFieldNameConstant       = "address"
	readHeaderTimeoutConstant         = 5 * time.Second
)

// Server runs the router until its context is cancelled, then drains in-flight requests.
type Server struct {
	settings   config.ServerConfiguration
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer wraps router in an http.Server configured with the read and write timeouts.
func NewServer(settings config.ServerConfiguration, router http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		settings: settings,
		httpServer: &http.Server{
			Addr:              settings.Address,
			Handler:           router,
			ReadHeaderTimeout: readHeaderTimeoutConstant,
			ReadTimeout:       settings.ReadTimeout,
			WriteTimeout:      settings.WriteTimeout,
		},
		logger: logger,
	}
}

// Run listens on the configured address and serves until executionContext is done.
func (server *Server) Run(executionContext context.Context) error {
	listener, listenError := net.Listen("tcp", server.settings.Address)
	if listenError != nil {
		return fmt.Errorf(listenErrorTemplateConstant, server.settings.Address, listenError)
	}
	return server.Serve(executionContext, listener)
}

// Serve accepts connections on listener until executionContext is done. Shutdown waits at most
// the configured shutdown timeout for in-flight requests.
func (server *Server) Serve(executionContext context.Context, listener net.Listener) error {
	server.logger.Info(serverListeningLogMessageConstant, zap.String(addressLogFieldNameConstant, listener.Addr().String()))

	serveErrors := make(chan error, 1)
	go func() {
		serveErrors <- server.httpServer.Serve(listener)
	}()

	select {
	case serveError := <-serveErrors:
		if errors.Is(serveError, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf(serveErrorTemplateConstant, serveError)
	case <-executionContext.Done():
	}

	server.logger.Info(serverStoppingLogMessageConstant, zap.String(addressLogFieldNameConstant, listener.Addr().String()))
	shutdownContext, cancel := server.shutdownContext()
	defer cancel()
	if shutdownError := server.httpServer.Shutdown(shutdownContext); shutdownError != nil {
		return fmt.Errorf(shutdownErrorTemplateConstant, shutdownError)
	}
	if serveError := <-serveErrors; serveError != nil && !errors.Is(serveError, http.ErrServerClosed) {
		return fmt.Errorf(serveErrorTemplateConstant, serveError)
	}
	return nil
}

func (server *Server) shutdownContext() (context.Context, context.CancelFunc) {
	if server.settings.ShutdownTimeout > 0 {
		return context.WithTimeout(context.Background(), server.settings.ShutdownTimeout)
	}
	return context.WithCancel(context.Background())
}
