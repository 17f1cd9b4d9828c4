// Package app wires the service components from configuration.
// Both binaries build on it; each starts only the parts it serves.
package app

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/alem-hub/mentorship-hub/config"
	"github.com/alem-hub/mentorship-hub/internal/application/command"
	"github.com/alem-hub/mentorship-hub/internal/application/eventhandler"
	"github.com/alem-hub/mentorship-hub/internal/application/query"
	"github.com/alem-hub/mentorship-hub/internal/domain/mentorship"
	"github.com/alem-hub/mentorship-hub/internal/domain/shared"
	"github.com/alem-hub/mentorship-hub/internal/infrastructure/messaging"
	"github.com/alem-hub/mentorship-hub/internal/infrastructure/observability"
	rediscache "github.com/alem-hub/mentorship-hub/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/mentorship-hub/internal/infrastructure/scheduler"
	"github.com/alem-hub/mentorship-hub/internal/infrastructure/scheduler/jobs"
	httpserver "github.com/alem-hub/mentorship-hub/internal/interface/http"
	"github.com/alem-hub/mentorship-hub/pkg/logger"
)

// closableBus is the event bus the app owns.
type closableBus interface {
	shared.EventBus
	Close() error
}

// App holds the wired components.
type App struct {
	Config *config.Config
	Logger *logger.Logger

	Store     mentorship.Store
	Bus       shared.EventBus
	Summaries query.SummaryCache // nil when the cache is off

	Lifecycle  *command.Lifecycle
	Candidates *query.FindCandidatesHandler
	Pending    *query.ListPendingHandler
	Mentorship *query.GetMentorshipHandler
	Health     *httpserver.HealthChecker

	// closers run in reverse order on Close
	closers []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// New wires every component. On error, whatever was already opened is closed.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *App, err error) {
	if log == nil {
		log = logger.Nop()
	}
	a := &App{
		Config: cfg,
		Logger: log,
		Health: httpserver.NewHealthChecker(cfg.App.Version),
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.wireTracing(ctx)

	if a.Store, err = a.wireStore(ctx); err != nil {
		return nil, err
	}

	cache := a.wireRedis(ctx)
	if cache != nil && cfg.Features.SummaryCache() {
		a.Summaries = rediscache.NewSummaryCache(cache, cfg.Redis.SummaryTTL)
	}

	bus, err := a.wireBus(cache)
	if err != nil {
		return nil, err
	}
	a.Bus = bus

	handler := eventhandler.NewOnMentorshipChangedHandler(a.Summaries, log, eventhandler.DefaultMentorshipChangedConfig())
	if err := handler.Register(bus); err != nil {
		return nil, fmt.Errorf("register event handler: %w", err)
	}

	scorer, err := mentorship.NewScorer(mentorship.ScoreWeights{
		Overlap:  cfg.Matching.WeightOverlap,
		Capacity: cfg.Matching.WeightCapacity,
		Rating:   cfg.Matching.WeightRating,
	})
	if err != nil {
		return nil, fmt.Errorf("matching weights: %w", err)
	}

	exec := command.NewExecutor(
		command.ExecutorDeps{Publisher: bus, Logger: log},
		command.ExecutorConfig{
			OperationTimeout:  cfg.Lifecycle.OperationTimeout,
			RetryAttempts:     cfg.Lifecycle.RetryAttempts,
			RetryInitialDelay: cfg.Lifecycle.RetryInitialDelay,
		},
	)
	a.Lifecycle = command.NewLifecycle(a.Store, exec, command.ReconcileConfig{
		Concurrency: cfg.Lifecycle.ReconcileConcurrency,
	})
	a.Candidates = query.NewFindCandidatesHandler(a.Store, scorer, query.MatchingConfig{
		DefaultLimit: cfg.Matching.DefaultLimit,
		MaxLimit:     cfg.Matching.MaxLimit,
	}, log)
	a.Pending = query.NewListPendingHandler(a.Store, a.Summaries, log)
	a.Mentorship = query.NewGetMentorshipHandler(a.Store)

	log.Info("application wired",
		logger.String("store", string(cfg.Store.Backend)),
		logger.Bool("summary_cache", a.Summaries != nil),
		logger.Bool("event_broadcast", isBroadcast(bus)),
	)
	return a, nil
}

// HTTPServer builds the REST server over the wired handlers.
func (a *App) HTTPServer() (*httpserver.Server, error) {
	c := a.Config
	return httpserver.NewServer(httpserver.Config{
		Host:           c.HTTP.Host,
		Port:           c.HTTP.Port,
		ReadTimeout:    c.HTTP.ReadTimeout,
		WriteTimeout:   c.HTTP.WriteTimeout,
		IdleTimeout:    c.HTTP.IdleTimeout,
		RequestTimeout: c.HTTP.RequestTimeout,
		MaxBodyBytes:   c.HTTP.MaxBodyBytes,
		APIKeyHeader:   c.Admin.APIKeyHeader,
		APIKeyHashes:   c.Admin.APIKeyHashes,

		RateLimitPerMinute: c.HTTP.RateLimitPerMinute,
		RateLimitBurst:     c.HTTP.RateLimitBurst,
	}, httpserver.Dependencies{
		Lifecycle:            a.Lifecycle,
		Candidates:           a.Candidates,
		Pending:              a.Pending,
		Mentorship:           a.Mentorship,
		SuggestNextCandidate: c.Features.SuggestNextCandidate,
		Health:               a.Health,
		Logger:               a.Logger,
	})
}

// Scheduler builds the background scheduler with the capacity audit registered.
func (a *App) Scheduler() (*scheduler.Scheduler, *jobs.ReconcileCapacityJob, error) {
	schedule, err := scheduler.ParseSchedule(a.Config.Audit.Schedule)
	if err != nil {
		return nil, nil, fmt.Errorf("audit schedule: %w", err)
	}

	s := scheduler.NewScheduler(scheduler.SchedulerConfig{Logger: a.Logger})
	job := jobs.NewReconcileCapacityJob(a.Lifecycle.Reconcile, a.Config.Features.AutoRepair, a.Logger)
	if err := s.Register(job, schedule); err != nil {
		return nil, nil, fmt.Errorf("register %s: %w", job.Name(), err)
	}
	if !a.Config.Audit.Enabled {
		if err := s.SetEnabled(job.Name(), false); err != nil {
			return nil, nil, err
		}
	}
	return s, job, nil
}

// Close releases everything New opened, newest first.
func (a *App) Close(ctx context.Context) error {
	var result error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.Logger.Warn("failed to close component", logger.String("component", c.name), logger.Err(err))
			result = multierror.Append(result, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return result
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRING
// ══════════════════════════════════════════════════════════════════════════════

func (a *App) wireTracing(ctx context.Context) {
	o := a.Config.Observability
	shutdown := observability.InitTracing(ctx, a.Logger, observability.TracingConfig{
		Enabled:     o.TracingEnabled,
		ServiceName: a.Config.App.Name,
		Environment: string(a.Config.App.Environment),
		Version:     a.Config.App.Version,
		Endpoint:    o.TracingEndpoint,
		Headers:     observability.ParseHeaders(o.TracingHeaders),
		Insecure:    o.TracingInsecure,
		SampleRatio: o.TracingSampleRatio,
	})
	a.onClose("tracing", shutdown)
}

// wireRedis connects the optional cache. A failure leaves the service
// running without it.
func (a *App) wireRedis(ctx context.Context) *rediscache.Cache {
	rc := a.Config.Redis
	if rc.Disabled {
		return nil
	}

	cache, err := rediscache.NewCache(ctx, rediscache.Config{
		Host:         rc.Host,
		Port:         rc.Port,
		Password:     rc.Password,
		DB:           rc.DB,
		PoolSize:     rc.PoolSize,
		MinIdleConns: rc.MinIdleConns,
		MaxRetries:   1,
		DialTimeout:  rc.DialTimeout,
		ReadTimeout:  rc.ReadTimeout,
		WriteTimeout: rc.WriteTimeout,
		PoolTimeout:  rc.DialTimeout,
	})
	if err != nil {
		a.Logger.Warn("redis unavailable, running without cache and broadcast", logger.Err(err))
		return nil
	}

	a.onClose("redis", func(context.Context) error { return cache.Close() })
	a.Health.AddOptionalCheck("redis", cache.Ping)
	return cache
}

func (a *App) wireBus(cache *rediscache.Cache) (closableBus, error) {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.Logger = a.Logger

	var bus closableBus
	if cache != nil && a.Config.Features.EventBroadcast() {
		rb, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         rediscache.NewPubSub(cache),
			ChannelName:    a.Config.Redis.EventChannel,
			LocalBusConfig: local,
			Logger:         a.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("redis event bus: %w", err)
		}
		bus = rb
	} else {
		bus = messaging.NewInMemoryEventBus(local)
	}

	a.onClose("event bus", func(context.Context) error { return bus.Close() })
	return bus, nil
}

func isBroadcast(bus shared.EventBus) bool {
	_, ok := bus.(*messaging.RedisEventBus)
	return ok
}
