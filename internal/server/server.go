/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	"github.com/friendsincode/slotwatch/internal/api"
	"github.com/friendsincode/slotwatch/internal/channel"
	"github.com/friendsincode/slotwatch/internal/config"
	"github.com/friendsincode/slotwatch/internal/db"
	"github.com/friendsincode/slotwatch/internal/events"
	"github.com/friendsincode/slotwatch/internal/history"
	"github.com/friendsincode/slotwatch/internal/leadership"
	"github.com/friendsincode/slotwatch/internal/logbuffer"
	"github.com/friendsincode/slotwatch/internal/models"
	"github.com/friendsincode/slotwatch/internal/scheduler"
	"github.com/friendsincode/slotwatch/internal/telemetry"
	"github.com/friendsincode/slotwatch/internal/webhooks"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	instanceID string
	router     chi.Router

	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	channel     channel.Channel
	controller  *scheduler.Controller
	bus         *events.Bus
	db          *gorm.DB
	history     *history.Service
	webhooks    *webhooks.Service
	logBuffer   *logbuffer.Buffer
	maintenance *scheduler.LeaderAwareMaintenance
	api         *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New connects the schedule channel, starts the controller and prepares the
// HTTP servers. Listening is left to the caller. logBuf may be nil.
func New(ctx context.Context, cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.MetricsMiddleware)
	router.Use(requestTimeout(30 * time.Second))

	srv := &Server{
		cfg:        cfg,
		logger:     logger.With().Str("instance_id", instanceID).Logger(),
		instanceID: instanceID,
		router:     router,
		bus:        events.NewBus(),
		logBuffer:  logBuf,
	}

	if err := srv.initDependencies(ctx); err != nil {
		if cerr := srv.Close(); cerr != nil {
			err = multierror.Append(err, cerr)
		}
		return nil, err
	}

	srv.configureRoutes()
	if err := srv.startBackgroundWorkers(ctx); err != nil {
		if cerr := srv.Close(); cerr != nil {
			err = multierror.Append(err, cerr)
		}
		return nil, err
	}

	srv.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           otelhttp.NewHandler(srv.router, "slotwatch-api"),
		ReadHeaderTimeout: 15 * time.Second,
		// The event feed is long-lived; handlers manage their own deadlines.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", telemetry.Handler())
	srv.metricsServer = &http.Server{
		Addr:              cfg.MetricsBind,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srv, nil
}

// requestTimeout bounds ordinary requests; websocket upgrades are exempt.
func requestTimeout(d time.Duration) func(http.Handler) http.Handler {
	timeout := middleware.Timeout(d)
	return func(next http.Handler) http.Handler {
		limited := timeout(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Cache-Control", "no-store")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies(ctx context.Context) error {
	ch, err := OpenChannel(ctx, s.cfg, s.instanceID, s.logger)
	if err != nil {
		return err
	}
	s.channel = ch
	s.DeferClose(ch.Close)

	s.controller = scheduler.New(ch, s.logger, scheduler.WithRetryDelay(s.cfg.WatcherRetryDelay))

	if s.cfg.HistoryEnabled() {
		database, err := db.Connect(s.cfg)
		if err != nil {
			return fmt.Errorf("connect history database: %w", err)
		}
		s.db = database
		s.DeferClose(func() error { return db.Close(database) })

		if err := db.Migrate(database); err != nil {
			return fmt.Errorf("migrate history database: %w", err)
		}
		s.history = history.NewService(database, s.instanceID, s.logger)
		if err := s.controller.Register(s.history.Callbacks()...); err != nil {
			return fmt.Errorf("register history callbacks: %w", err)
		}
	}

	if len(s.cfg.WebhookURLs) > 0 {
		s.webhooks = webhooks.NewService(s.cfg.WebhookURLs, s.cfg.WebhookSecret, s.instanceID, s.logger)
		s.DeferClose(s.webhooks.Close)
		if err := s.controller.Register(s.webhooks.Callbacks()...); err != nil {
			return fmt.Errorf("register webhook callbacks: %w", err)
		}
		s.logger.Info().Int("targets", len(s.cfg.WebhookURLs)).Msg("webhook notifications enabled")
	}

	if err := s.controller.Register(busCallbacks(s.bus, s.controller)...); err != nil {
		return fmt.Errorf("register event callbacks: %w", err)
	}

	// Closers run in reverse, so the watchers stop before any callback
	// target is released.
	s.DeferClose(s.controller.Close)
	if err := s.controller.Setup(ctx); err != nil {
		return fmt.Errorf("setup schedule controller: %w", err)
	}

	var hist api.History
	if s.history != nil {
		hist = s.history
	}
	var logs api.Logs
	if s.logBuffer != nil {
		logs = s.logBuffer
	}
	s.api = api.New(s.controller, hist, logs, s.bus, s.logger)
	if s.cfg.JWTSigningKey != "" {
		s.api.RequireMaintenanceToken([]byte(s.cfg.JWTSigningKey))
	} else {
		s.logger.Warn().Msg("SLOTWATCH_JWT_SIGNING_KEY not set, maintenance endpoints disabled")
	}
	return nil
}

// OpenChannel connects the configured schedule channel backend, retrying
// transient connection failures until cfg.ChannelConnectTimeout.
func OpenChannel(ctx context.Context, cfg *config.Config, nodeID string, logger zerolog.Logger) (channel.Channel, error) {
	if cfg.ChannelBackend == config.ChannelMemory {
		seed, err := channel.LoadSeed(cfg.SeedFile)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("seed_file", cfg.SeedFile).Msg("using in-memory schedule channel")
		return channel.NewMemoryChannel(seed, logger), nil
	}

	var ch channel.Channel
	connect := func() error {
		var err error
		switch cfg.ChannelBackend {
		case config.ChannelRedis:
			rcfg := channel.DefaultRedisConfig()
			rcfg.Addr = cfg.RedisAddr
			rcfg.Password = cfg.RedisPassword
			rcfg.DB = cfg.RedisDB
			rcfg.AggregateKey = cfg.RedisAggregateKey
			rcfg.UpdatesChannel = cfg.RedisUpdatesChannel
			ch, err = channel.NewRedisChannel(rcfg, nodeID, logger)
		case config.ChannelNATS:
			ncfg := channel.DefaultNATSConfig()
			ncfg.URL = cfg.NATSURL
			ncfg.Token = cfg.NATSToken
			ncfg.Bucket = cfg.NATSBucket
			ch, err = channel.NewNATSChannel(ncfg, logger)
		default:
			return backoff.Permanent(fmt.Errorf("unsupported channel backend %q", cfg.ChannelBackend))
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = cfg.ChannelConnectTimeout
	notify := func(err error, wait time.Duration) {
		logger.Warn().Err(err).Dur("retry_in", wait).Str("backend", string(cfg.ChannelBackend)).Msg("schedule channel unavailable, retrying")
	}
	if err := backoff.RetryNotify(connect, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, fmt.Errorf("connect %s schedule channel: %w", cfg.ChannelBackend, err)
	}
	return ch, nil
}

// busCallbacks mirror controller events onto the in-process bus.
func busCallbacks(bus *events.Bus, ctrl *scheduler.Controller) []scheduler.Callback {
	return []scheduler.Callback{
		{
			Name:  "event-bus",
			Roles: scheduler.RoleUpdate,
			Update: func(context.Context) error {
				bus.Publish(events.EventScheduleUpdate, events.Payload{
					"schedules": len(ctrl.Schedules()),
					"timeslots": len(ctrl.SortedTimeslots()),
				})
				return nil
			},
		},
		{
			Name:  "event-bus",
			Roles: scheduler.RoleStart,
			Slot: func(_ context.Context, slot *models.Timeslot) error {
				bus.Publish(events.EventTimeslotStart, slotPayload(slot))
				return nil
			},
		},
		{
			Name:  "event-bus",
			Roles: scheduler.RoleEnd,
			Slot: func(_ context.Context, slot *models.Timeslot) error {
				bus.Publish(events.EventTimeslotEnd, slotPayload(slot))
				return nil
			},
		},
	}
}

func slotPayload(slot *models.Timeslot) events.Payload {
	return events.Payload{"timeslot": api.NewTimeslotResponse(slot)}
}

// Handler returns the API handler without the tracing wrapper.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer exposes the Prometheus endpoint server.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// LogBuffer returns the server's log buffer, nil when disabled.
func (s *Server) LogBuffer() *logbuffer.Buffer {
	return s.logBuffer
}

// Controller exposes the schedule controller.
func (s *Server) Controller() *scheduler.Controller {
	return s.controller
}

// Bus exposes the in-process event bus.
func (s *Server) Bus() *events.Bus {
	return s.bus
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()

	var result error
	if s.maintenance != nil {
		if err := s.maintenance.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("stop maintenance: %w", err))
		}
		s.maintenance = nil
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && !errors.Is(err, channel.ErrClosed) {
			result = multierror.Append(result, err)
		}
	}
	s.closers = nil
	return result
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.bgCancel = cancel

	if s.cfg.LeaderElectionEnabled {
		ecfg := leadership.DefaultConfig()
		ecfg.RedisAddr = s.cfg.RedisAddr
		ecfg.RedisPassword = s.cfg.RedisPassword
		ecfg.RedisDB = s.cfg.RedisDB
		ecfg.InstanceID = s.instanceID

		election, err := leadership.NewElection(ecfg, s.logger)
		if err != nil {
			return fmt.Errorf("create leader election: %w", err)
		}
		s.maintenance = scheduler.NewLeaderAware(s.controller, election, s.cfg.MaintenanceInterval, s.logger)
		if err := s.maintenance.Start(bgCtx); err != nil {
			return fmt.Errorf("start leader-aware maintenance: %w", err)
		}
	} else {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.controller.RunMaintenance(bgCtx, s.cfg.MaintenanceInterval); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("maintenance loop error")
			}
		}()
	}

	if s.db != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				db.UpdateConnectionMetrics(s.db)
				select {
				case <-bgCtx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	}

	if s.history != nil && s.cfg.HistoryRetention > 0 {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runHistoryPrune(bgCtx, time.Hour)
		}()
	}
	return nil
}

// runHistoryPrune deletes slot events older than the retention window,
// once at start and then every interval.
func (s *Server) runHistoryPrune(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		cutoff := time.Now().Add(-s.cfg.HistoryRetention)
		removed, err := s.history.Prune(ctx, cutoff)
		if err != nil {
			s.logger.Warn().Err(err).Msg("history prune failed")
		} else if removed > 0 {
			s.logger.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("pruned slot history")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.api.ReportLeadership(s.instanceID, func() bool {
		return s.maintenance == nil || s.maintenance.IsLeader()
	})
	s.api.Routes(s.router)
}
