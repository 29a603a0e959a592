// Copyright 2025 James Ross
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/flyingrobots/queueengine/internal/breaker"
	"github.com/flyingrobots/queueengine/internal/config"
	"github.com/flyingrobots/queueengine/internal/dashboard"
	"github.com/flyingrobots/queueengine/internal/eventbus"
	"github.com/flyingrobots/queueengine/internal/obs"
	"github.com/flyingrobots/queueengine/internal/registry"
	"github.com/flyingrobots/queueengine/internal/scheduler"
	"github.com/flyingrobots/queueengine/internal/service"
	"github.com/flyingrobots/queueengine/internal/storage"

	"github.com/flyingrobots/queueengine/examples/filewatch"
	"github.com/flyingrobots/queueengine/examples/httpadapter"
)

var version = "dev"

func main() {
	var configPath string
	var role string
	var adminCmd string
	var adminQueue string
	var showVersion bool
	var apiAddr string
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.StringVar(&role, "role", "engine", "Role to run: engine|admin")
	fs.StringVar(&adminCmd, "admin-cmd", "stats", "Admin command: stats")
	fs.StringVar(&adminQueue, "queue", "", "Queue name for single-queue admin commands")
	fs.StringVar(&apiAddr, "api-addr", ":8080", "Address for the sample HTTP adapter")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	adapter, err := buildAdapter(cfg)
	if err != nil {
		logger.Fatal("failed to build storage adapter", obs.Err(err))
	}
	wireBreakerMetrics(adapter, logger)

	reg := registry.New()
	svcCfg := toServiceConfig(cfg)
	svc := service.New(svcCfg, adapter, reg, logger)
	service.Initialize(svc)

	if role == "admin" {
		runAdmin(context.Background(), svc, adminCmd, adminQueue, logger)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(5 * time.Second):
		}
	}()

	httpSrv := obs.StartHTTPServer(cfg, func(c context.Context) error {
		if !adapter.HealthCheck(c) {
			return fmt.Errorf("storage adapter unhealthy")
		}
		return nil
	})
	defer func() { _ = httpSrv.Shutdown(context.Background()) }()

	obs.StartQueueLengthUpdater(ctx, cfg, adapter, logger)

	if err := svc.StartAll(ctx); err != nil {
		logger.Fatal("failed to start service", obs.Err(err))
	}

	apiSrv := httpadapter.NewServer(apiAddr, svc, logger)
	go func() {
		if err := apiSrv.Start(); err != nil {
			logger.Info("http adapter stopped", obs.Err(err))
		}
	}()

	attachPublishers(cfg, svc.EventBus(), logger)
	watchEvents(svc.EventBus(), logger)

	if cfg.FileWatch.Enabled {
		watcher := filewatch.New(filewatch.Config{
			ScanDir:          cfg.FileWatch.ScanDir,
			IncludeGlobs:     cfg.FileWatch.IncludeGlobs,
			ExcludeGlobs:     cfg.FileWatch.ExcludeGlobs,
			QueueName:        cfg.FileWatch.Queue,
			JobType:          cfg.FileWatch.JobType,
			HighPriorityExts: cfg.FileWatch.HighPriorityExts,
		}, svc, logger)
		go filewatch.RunEvery(ctx, watcher, cfg.FileWatch.Interval)
	}

	<-ctx.Done()
	_ = apiSrv.Shutdown(context.Background())
	_ = svc.StopAll(context.Background(), scheduler.StopOptions{Graceful: true, Timeout: 30 * time.Second})
	service.Terminate()
}

func buildAdapter(cfg *config.Config) (storage.Adapter, error) {
	switch cfg.Storage.Backend {
	case "redis":
		return storage.NewRedisAdapter(storage.RedisConfig{
			URL:               cfg.Storage.Redis.URL,
			Database:          cfg.Storage.Redis.Database,
			Password:          cfg.Storage.Redis.Password,
			KeyPrefix:         cfg.Storage.KeyPrefix,
			DialTimeout:       cfg.Storage.Redis.DialTimeout,
			ReadTimeout:       cfg.Storage.Redis.ReadTimeout,
			WriteTimeout:      cfg.Storage.Redis.WriteTimeout,
			BreakerWindow:     cfg.CircuitBreaker.Window,
			BreakerCooldown:   cfg.CircuitBreaker.CooldownPeriod,
			BreakerFailRate:   cfg.CircuitBreaker.FailureThreshold,
			BreakerMinSamples: cfg.CircuitBreaker.MinSamples,
		})
	default:
		return storage.NewMemoryAdapter(), nil
	}
}

// wireBreakerMetrics observes the storage adapter's circuit breaker, if it
// has one, and drives the circuit_breaker_state/circuit_breaker_trips_total
// gauges from its transitions instead of polling.
func wireBreakerMetrics(adapter storage.Adapter, logger *zap.Logger) {
	type breakerHolder interface {
		Breaker() *breaker.CircuitBreaker
	}
	bh, ok := adapter.(breakerHolder)
	if !ok {
		return
	}
	bh.Breaker().OnTransition(func(from, to breaker.State) {
		obs.CircuitBreakerState.Set(float64(to))
		if to == breaker.Open {
			obs.CircuitBreakerTrips.Inc()
		}
		logger.Info("storage circuit breaker transition", obs.String("from", from.String()), obs.String("to", to.String()))
	})
}

func toServiceConfig(cfg *config.Config) service.Config {
	queues := make([]service.QueueConfig, 0, len(cfg.Queues))
	for _, q := range cfg.Queues {
		queues = append(queues, service.QueueConfig{
			Name:             q.Name,
			Concurrency:      q.Concurrency,
			Timeout:          q.Timeout.Milliseconds(),
			MaxRetries:       q.MaxRetries,
			ReconcileOnStart: q.ReconcileOnStart,
		})
	}
	return service.Config{
		Queues:             queues,
		DefaultConcurrency: cfg.DefaultConcurrency,
		DefaultTimeout:     cfg.DefaultTimeout.Milliseconds(),
		DefaultMaxRetries:  cfg.DefaultMaxRetries,
		ServerID:           cfg.ServerID,
	}
}

// watchEvents subscribes one listener to every bus event that updates the
// job metrics and debug-logs the event, so engine activity is observable
// without a dashboard. Cross-process publishers are wired by
// attachPublishers.
func watchEvents(bus *eventbus.Bus, logger *zap.Logger) {
	bus.Subscribe(eventbus.Filter{}, func(e eventbus.Event) {
		switch e.Kind {
		case eventbus.JobStarted:
			obs.JobsStarted.WithLabelValues(e.QueueName).Inc()
		case eventbus.JobCompleted:
			obs.JobsCompleted.WithLabelValues(e.QueueName).Inc()
			obs.JobProcessingDuration.WithLabelValues(e.QueueName).Observe(float64(e.DurationMs) / 1000)
		case eventbus.JobFailed:
			if e.WillRetry {
				obs.JobsRetried.WithLabelValues(e.QueueName).Inc()
			} else {
				obs.JobsFailed.WithLabelValues(e.QueueName).Inc()
			}
		case eventbus.JobCancelled:
			obs.JobsCancelled.WithLabelValues(e.QueueName).Inc()
		case eventbus.JobQueued:
			obs.JobsEnqueued.WithLabelValues(e.QueueName).Inc()
		}
		logger.Debug("job event", obs.String("kind", string(e.Kind)), obs.String("job_id", e.JobID), obs.String("queue", e.QueueName))
	})
}

// attachPublishers wires the configured cross-process event publishers
// (NATS, one or more webhooks) onto bus. Construction failures are logged
// and skipped rather than fatal: cross-process delivery is observational
// only and never required for the engine to run.
func attachPublishers(cfg *config.Config, bus *eventbus.Bus, logger *zap.Logger) {
	var publishers eventbus.FanOut

	if cfg.Events.NATSURL != "" {
		pub, err := eventbus.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
		if err != nil {
			logger.Warn("nats publisher init failed", obs.Err(err))
		} else {
			publishers = append(publishers, pub)
		}
	}

	for _, wh := range cfg.Events.Webhooks {
		publishers = append(publishers, eventbus.NewWebhookSubscription(wh.URL, wh.Secret, wh.Timeout))
	}

	if len(publishers) > 0 {
		bus.Attach(publishers)
	}
}

func runAdmin(ctx context.Context, svc *service.Service, cmd, queueName string, logger *zap.Logger) {
	switch cmd {
	case "stats":
		snap, err := dashboard.Gather(ctx, svc, 5)
		if err != nil {
			logger.Fatal("admin stats error", obs.Err(err))
		}
		dashboard.SortQueuesByBacklog(snap)
		b, _ := json.MarshalIndent(snap, "", "  ")
		fmt.Println(string(b))
	default:
		logger.Fatal("unknown admin command", obs.String("cmd", cmd))
	}
	_ = queueName
}
