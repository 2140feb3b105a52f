package api

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/stephnangue/jwtsecrets/listener"
	"github.com/stephnangue/jwtsecrets/logger"
)

type ApiListener struct {
	logger   *logger.GatedLogger
	server   *http.Server
	listener net.Listener
	tls      bool
	stopped  atomic.Bool
}

var _ listener.Listener = (*ApiListener)(nil)

type ApiListenerConfig struct {
	Logger          *logger.GatedLogger
	Address         string
	TLSCertFile     string
	TLSKeyFile      string
	TLSClientCAFile string
	TLSDisable      bool
}

// NewApiListener binds cfg.Address and prepares the HTTP server. Binding
// happens here so the bound address is known before Start.
func NewApiListener(cfg ApiListenerConfig, httpHandler http.Handler) (*ApiListener, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	var handler http.Handler = httpHandler
	handler = middleware.RealIP(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recoverer(handler)

	server := &http.Server{
		Handler:           handler,
		IdleTimeout:       time.Minute,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	if !cfg.TLSDisable {
		tlsConfig, err := tlsConfig(cfg)
		if err != nil {
			return nil, err
		}
		server.TLSConfig = tlsConfig
	}

	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Address, err)
	}

	return &ApiListener{
		logger:   log,
		server:   server,
		listener: ln,
		tls:      !cfg.TLSDisable,
	}, nil
}

func tlsConfig(cfg ApiListenerConfig) (*tls.Config, error) {
	if cfg.TLSCertFile == "" || cfg.TLSKeyFile == "" {
		return nil, errors.New("tls_cert_file and tls_key_file are required unless tls_disable is set")
	}
	cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
	}
	conf := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	if cfg.TLSClientCAFile != "" {
		pem, err := os.ReadFile(cfg.TLSClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read client CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("client CA file contains no certificates")
		}
		conf.ClientCAs = pool
		conf.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return conf, nil
}

func (l *ApiListener) Addr() string {
	return l.listener.Addr().String()
}

func (l *ApiListener) Type() string {
	return "tcp"
}

// Start serves until ctx is cancelled or the server fails.
func (l *ApiListener) Start(ctx context.Context) error {
	l.logger.Info("starting HTTP server",
		logger.String("address", l.Addr()),
		logger.Bool("tls", l.tls),
	)

	errChan := make(chan error, 1)
	go func() {
		var err error
		if l.tls {
			err = l.server.ServeTLS(l.listener, "", "")
		} else {
			err = l.server.Serve(l.listener)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		l.logger.Info("shutdown signal received")
		return l.Stop()
	case err := <-errChan:
		l.logger.Error("HTTP Server error", logger.Err(err))
		return err
	}
}

func (l *ApiListener) Stop() error {
	if !l.stopped.CompareAndSwap(false, true) {
		l.logger.Info("HTTP server already stopped, skipping")
		return nil
	}

	l.logger.Info("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := l.server.Shutdown(ctx); err != nil {
		l.logger.Error("error when shutting down the http server", logger.Err(err))
		return err
	}

	l.logger.Info("HTTP server stopped gracefully")
	return nil
}
