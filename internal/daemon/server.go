package daemon

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/fae-ai/fae-pi/internal/approval"
	"github.com/fae-ai/fae-pi/internal/config"
	"github.com/fae-ai/fae-pi/internal/install"
	"github.com/fae-ai/fae-pi/internal/observability"
	"github.com/fae-ai/fae-pi/internal/rpc/delegate"
	"github.com/fae-ai/fae-pi/internal/session"
	"github.com/fae-ai/fae-pi/internal/tools"
)

// Server hosts the delegation endpoints plus health and metrics.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	runner  delegate.Runner
	broker  *approval.Broker
	session *session.Session
	metrics *observability.Metrics
}

// NewServer resolves the Pi binary and wires the delegation pipeline.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	metrics := observability.NewMetrics()

	binPath, err := resolveBinary(cfg, logger, metrics)
	if err != nil {
		return nil, err
	}

	sess := session.New(binPath, cfg.Pi.Provider, cfg.Pi.Model, logger)
	tool := tools.NewDelegate(sess, logger,
		tools.WithTimeout(cfg.Delegate.Timeout()),
		tools.WithPollInterval(cfg.Delegate.PollInterval()),
		tools.WithMetrics(metrics))

	// Approvals need the bidi stream to carry answers back; on the one-way
	// NDJSON transport the gate would deadlock until its timeout, so it runs
	// headless there.
	var broker *approval.Broker
	var submitter approval.Submitter
	if cfg.Approval.Enabled {
		if transport(cfg) == "ndjson" {
			logger.Warn("approval gate disabled: ndjson transport cannot carry approval answers")
		} else {
			broker = approval.NewBroker(8)
			submitter = broker
		}
	}
	gated := tools.NewApprovalGate(tool, submitter, cfg.Approval.Timeout(), metrics)

	runner := &delegate.ToolRunner{Tool: gated, Broker: broker, Logger: logger}

	return &Server{
		cfg:     cfg,
		logger:  logger,
		runner:  runner,
		broker:  broker,
		session: sess,
		metrics: metrics,
	}, nil
}

// resolveBinary honours an explicit path and otherwise runs detection and,
// when allowed, installation.
func resolveBinary(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) (string, error) {
	if cfg.Pi.BinaryPath != "" {
		return cfg.Pi.BinaryPath, nil
	}

	installDir := cfg.Install.InstallDir
	if installDir == "" {
		installDir = install.DefaultInstallDir()
	}
	stateDir := cfg.Install.StateDir
	if stateDir == "" {
		stateDir = install.DefaultStateDir()
	}

	releases := install.NewReleaseClient(cfg.Install.ReleaseURL, 5*time.Minute, logger)
	manager := install.NewManager(installDir, stateDir, releases, logger,
		install.WithManagerMetrics(metrics))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	state, err := manager.Ensure(ctx, cfg.Install.AutoInstall)
	if err != nil {
		return "", fmt.Errorf("ensure pi binary: %w", err)
	}
	if state.Kind == install.KindNotFound {
		return "", fmt.Errorf("pi binary not found; set pi.binary_path or enable install.auto_install")
	}
	logger.Info("using pi binary",
		zap.String("path", state.Path),
		zap.String("kind", string(state.Kind)),
		zap.String("version", state.Version))
	return state.Path, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal
// error. The Pi subprocess is shut down on the way out.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/metrics", s.metricsHandler)

	switch transport(s.cfg) {
	case "ndjson":
		mux.Handle("/delegate/run", delegate.NewHandler(s.runner, s.metrics))
	default:
		path, handler := delegate.NewConnectHandler(s.runner, s.broker, s.metrics)
		mux.Handle(path, handler)
		// keep the NDJSON path available for curl-style clients
		mux.Handle("/delegate/run", delegate.NewHandler(s.runner, s.metrics))
	}

	handler := http.Handler(mux)
	if transport(s.cfg) != "ndjson" {
		handler = h2c.NewHandler(handler, &http2.Server{})
	}

	server := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting fae-pi daemon", zap.String("addr", s.cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down fae-pi daemon")
	case err := <-errCh:
		s.shutdownPipeline()
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := server.Shutdown(shutdownCtx)
	s.shutdownPipeline()
	if err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) shutdownPipeline() {
	if s.broker != nil {
		s.broker.Close()
	}
	if s.session != nil {
		s.session.Shutdown()
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Server.MetricsEnabled {
		http.NotFound(w, r)
		return
	}

	promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

func transport(cfg *config.Config) string {
	return strings.ToLower(strings.TrimSpace(cfg.Server.Transport))
}
