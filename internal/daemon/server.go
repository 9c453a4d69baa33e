package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/proxnix/proxnix/internal/auditlog"
	"github.com/proxnix/proxnix/internal/config"
	"github.com/proxnix/proxnix/internal/qm"
)

const shutdownTimeout = 5 * time.Second

// Service wires the webhook listener, optional metrics listener, and the
// health loop into one running daemon.
type Service struct {
	cfg     config.Config
	audit   *auditlog.Store
	metrics *Metrics

	webhookListener net.Listener
	metricsListener net.Listener
	webhookServer   *http.Server
	metricsServer   *http.Server

	controller *Controller
}

// Run loads the audit log, constructs the backend and controller, and
// serves until ctx is canceled.
func Run(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	audit, err := auditlog.Open(cfg.AuditLogPath)
	if err != nil {
		return err
	}
	service, err := NewService(cfg, audit)
	if err != nil {
		_ = audit.Close()
		return err
	}
	return service.Serve(ctx)
}

// NewService binds listeners and wires the controller. backend defaults to
// a ShellBackend driving cfg.QmPath.
func NewService(cfg config.Config, audit *auditlog.Store) (*Service, error) {
	var metrics *Metrics
	if strings.TrimSpace(cfg.MetricsListen) != "" {
		metrics = NewMetrics()
	}

	webhookListener, err := net.Listen("tcp", cfg.WebhookListen)
	if err != nil {
		return nil, fmt.Errorf("listen webhook %s: %w", cfg.WebhookListen, err)
	}
	var metricsListener net.Listener
	if metrics != nil {
		metricsListener, err = net.Listen("tcp", cfg.MetricsListen)
		if err != nil {
			_ = webhookListener.Close()
			return nil, fmt.Errorf("listen metrics %s: %w", cfg.MetricsListen, err)
		}
	}

	backend := &qm.ShellBackend{
		QmPath:         cfg.QmPath,
		Runner:         &qm.BashRunner{},
		CommandTimeout: cfg.ProxmoxCommandTimeout,
	}

	controller := NewController(cfg, backend, audit, metrics, log.Default())

	webhookMux := http.NewServeMux()
	webhookMux.HandleFunc("/healthz", healthHandler)
	controller.Register(webhookMux)
	webhookServer := &http.Server{
		Handler:           webhookMux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	var metricsServer *http.Server
	if metrics != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		metricsMux.HandleFunc("/healthz", healthHandler)
		metricsServer = &http.Server{
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       2 * time.Minute,
		}
	}

	return &Service{
		cfg:             cfg,
		audit:           audit,
		metrics:         metrics,
		webhookListener: webhookListener,
		metricsListener: metricsListener,
		webhookServer:   webhookServer,
		metricsServer:   metricsServer,
		controller:      controller,
	}, nil
}

// Serve starts the webhook server, the optional metrics server, and the
// health loop, and blocks until ctx is canceled or a listener errors.
func (s *Service) Serve(ctx context.Context) error {
	serverCount := 1
	if s.metricsServer != nil {
		serverCount++
	}
	log.Printf("proxnixd: listening on webhook=%s", s.cfg.WebhookListen)
	if s.metricsServer != nil {
		log.Printf("proxnixd: listening on metrics=%s", s.cfg.MetricsListen)
	}

	s.controller.StartHealthLoop(ctx)

	errCh := make(chan error, serverCount)
	go func() { errCh <- s.webhookServer.Serve(s.webhookListener) }()
	if s.metricsServer != nil {
		go func() { errCh <- s.metricsServer.Serve(s.metricsListener) }()
	}

	remaining := serverCount
	var serveErr error

	select {
	case <-ctx.Done():
	case err := <-errCh:
		remaining--
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	s.shutdown()
	for i := 0; i < remaining; i++ {
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) && serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}

func (s *Service) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = s.webhookServer.Shutdown(ctx)
	if s.metricsServer != nil {
		_ = s.metricsServer.Shutdown(ctx)
	}
	if s.audit != nil {
		_ = s.audit.Close()
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
