package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/avyuktsoni0731/continuum.ai/internal/analytics"
	"github.com/avyuktsoni0731/continuum.ai/internal/api"
	"github.com/avyuktsoni0731/continuum.ai/internal/circuitbreaker"
	"github.com/avyuktsoni0731/continuum.ai/internal/config"
	"github.com/avyuktsoni0731/continuum.ai/internal/cron"
	"github.com/avyuktsoni0731/continuum.ai/internal/detect"
	"github.com/avyuktsoni0731/continuum.ai/internal/engine"
	"github.com/avyuktsoni0731/continuum.ai/internal/leaderelection"
	"github.com/avyuktsoni0731/continuum.ai/internal/metrics"
	"github.com/avyuktsoni0731/continuum.ai/internal/notifier"
	"github.com/avyuktsoni0731/continuum.ai/internal/policy"
	"github.com/avyuktsoni0731/continuum.ai/internal/reconciler"
	"github.com/avyuktsoni0731/continuum.ai/internal/roster"
	"github.com/avyuktsoni0731/continuum.ai/internal/scheduler"
	"github.com/avyuktsoni0731/continuum.ai/internal/store/memory"
	"github.com/avyuktsoni0731/continuum.ai/internal/store/postgres"
	"github.com/avyuktsoni0731/continuum.ai/internal/transport/channel"
	"github.com/avyuktsoni0731/continuum.ai/internal/webhook"

	_ "github.com/lib/pq"
)

// backingStore is the union of every consumer-side store interface, so one
// backend instance serves the whole service.
type backingStore interface {
	scheduler.Store
	webhook.Store
	engine.Store
	notifier.Store
	reconciler.Store
	api.Store
	Ping(ctx context.Context) error
}

// rosterZones adapts the roster to the calendar's timezone lookup.
type rosterZones struct {
	repo roster.Repository
}

func (z rosterZones) Timezone(ctx context.Context, userID string) (string, error) {
	profile, ok, err := z.repo.User(ctx, userID)
	if err != nil || !ok {
		return "", err
	}
	return profile.Timezone, nil
}

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`continuum - decision intelligence layer

Usage:
  continuum <command>

Commands:
  serve      Start the scheduler, decision engine, and notifier
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  STORE_BACKEND             "memory" or "postgres" (default: inferred from DATABASE_URL)
  DATABASE_URL              PostgreSQL connection string (required for postgres backend)
  REDIS_ADDR                Redis address for decision analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")
  ROSTER_PATH               Teammate roster JSON document (optional)

  NOTIFY_WEBHOOK_URL        Fallback decision webhook endpoint
  NOTIFY_WEBHOOK_SECRET     HMAC signing secret for decision webhooks
  NOTIFY_TIMEOUT            Per-delivery HTTP timeout (default: "30s")

  TICK_INTERVAL             Scheduler tick interval (default: "15m")
  BATCH_SIZE                Max due triggers per tick (default: "100")
  SWEEP_CRON                Cron expression for the full re-evaluation sweep (optional)
  SWEEP_TIMEZONE            Timezone for SWEEP_CRON (default: "UTC")
  OVERDUE_GRACE             Grace before a pending trigger counts as overdue (default: "1h")

  EXECUTE_THRESHOLD         Criticality cut point for execute (default: "80")
  DELEGATE_THRESHOLD        Criticality cut point for delegate (default: "60")
  SUMMARIZE_THRESHOLD       Criticality floor below which items summarize (default: "40")
  AUTOMATE_THRESHOLD        Feasibility cut point for automation (default: "70")
  FEASIBILITY_FLOOR         Guardrail feasibility floor (default: "70")
  GUARDRAIL_FALLBACK        "availability", "delegate", or "notify" (default: "availability")
  BUSINESS_START_HOUR       Business hours start, 0-23 (default: "9")
  BUSINESS_END_HOUR         Business hours end, 1-24 (default: "18")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  EVENTBUS_BUFFER_SIZE      Decision event buffer size (default: "256")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")

  ANALYTICS_WINDOW          Analytics counter bucket size (default: "1h")
  ANALYTICS_RETENTION       Analytics counter retention (default: "720h")

  RECONCILE_ENABLED         Enable orphan decision reconciler (default: "false")
  RECONCILE_INTERVAL        How often to scan for orphans (default: "5m")
  RECONCILE_THRESHOLD       Age before a decision is orphaned (default: "15m")
  RECONCILE_BATCH_SIZE      Max orphans per cycle (default: "100")

  CIRCUIT_BREAKER_THRESHOLD Consecutive failures before opening ("0" disables, default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Open-state cooldown before probing (default: "2m")

  LEADER_ENABLED            Advisory-lock leader election (default: "false")
  LEADER_LOCK_KEY           Shared advisory lock key (default: "7321001")
  LEADER_RETRY_INTERVAL     Lock acquisition retry interval (default: "15s")
  LEADER_HEARTBEAT_INTERVAL Leadership liveness check interval (default: "5s")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(&cfg)

	// Load the roster up front; a malformed document fails startup.
	var repo roster.Repository
	if cfg.RosterPath != "" {
		fileRepo, err := roster.LoadFile(cfg.RosterPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load roster: %v\n", err)
			return exitInvalidConfig
		}
		repo = fileRepo
		log.Printf("continuum: roster loaded from %s", cfg.RosterPath)
	} else {
		repo = roster.NewMemory()
		log.Println("continuum: ROSTER_PATH not set; roster empty, delegation disabled")
	}

	// Select the storage backend.
	var store backingStore
	var db *sql.DB
	if cfg.StoreBackend == "postgres" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
			return exitRuntimeError
		}
		defer db.Close()

		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
		db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
		log.Printf("continuum: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s)",
			cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)

		if err := db.Ping(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
			return exitRuntimeError
		}
		store = postgres.New(db)
	} else {
		store = memory.New()
		log.Println("continuum: using in-memory store; state does not survive restarts")
	}

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("continuum: metrics enabled (path=%s)", cfg.MetricsPath)
	} else {
		log.Println("continuum: METRICS_ENABLED not set; metrics disabled")
	}

	// Decision event bus between engine and notifier.
	bus := channel.NewBus(cfg.EventBusBufferSize)
	if metricsSink != nil {
		bus = bus.WithMetrics(metricsSink)
	}

	// Context mismatch detector backed by the business-hours calendar.
	detectCfg := detect.DefaultConfig()
	detectCfg.OverdueGrace = cfg.OverdueGrace
	calendar := detect.NewBusinessHoursCalendar(cfg.BusinessStartHour, cfg.BusinessEndHour, rosterZones{repo: repo})
	detector := detect.New(detectCfg, calendar)

	// Decision policy from configured thresholds.
	policyCfg := policy.DefaultConfig()
	policyCfg.Thresholds = policy.Thresholds{
		Execute:   cfg.ExecuteThreshold,
		Delegate:  cfg.DelegateThreshold,
		Summarize: cfg.SummarizeThreshold,
		Automate:  cfg.AutomateThreshold,
	}
	policyCfg.Guardrails.FeasibilityFloor = cfg.FeasibilityFloor
	policyCfg.Guardrails.BusinessStartHour = cfg.BusinessStartHour
	policyCfg.Guardrails.BusinessEndHour = cfg.BusinessEndHour
	policyCfg.Fallback = policy.Fallback(cfg.GuardrailFallback)

	pipeline := engine.New(policyCfg, detector, repo, store, bus)
	if metricsSink != nil {
		pipeline = pipeline.WithMetrics(metricsSink)
	}

	// Wire analytics if Redis is configured
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		sink := analytics.NewRedisSink(redisClient, analytics.Config{
			Window:    cfg.AnalyticsWindow,
			Retention: cfg.AnalyticsRetention,
		})
		pipeline = pipeline.WithAnalytics(sink)
		log.Printf("continuum: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("continuum: REDIS_ADDR not set; analytics disabled")
	}

	sched := scheduler.New(
		scheduler.Config{TickInterval: cfg.TickInterval, BatchSize: cfg.BatchSize},
		store,
		pipeline,
	)
	if metricsSink != nil {
		sched = sched.WithMetrics(metricsSink)
	}
	if cfg.SweepCron != "" {
		sweep, err := cron.NewParser().Parse(cfg.SweepCron, cfg.SweepTimezone)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid SWEEP_CRON: %v\n", err)
			return exitInvalidConfig
		}
		sched = sched.WithSweep(sweep)
	}

	normalizer := webhook.NewNormalizer(store, sched)

	// Decision delivery.
	if cfg.NotifyWebhookURL == "" {
		log.Println("continuum: NOTIFY_WEBHOOK_URL not set; users without a notify_url get no deliveries")
	}
	notif := notifier.New(store, notifier.NewHTTPSender(), repo, notifier.Endpoint{
		URL:     cfg.NotifyWebhookURL,
		Secret:  cfg.NotifyWebhookSecret,
		Timeout: cfg.NotifyTimeout,
	})
	if cfg.CircuitBreakerThreshold > 0 {
		breaker := circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
		notif = notif.WithBreaker(breaker)
		log.Printf("continuum: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}
	if metricsSink != nil {
		notif = notif.WithMetrics(metricsSink)
	}

	var recon *reconciler.Reconciler
	if cfg.ReconcileEnabled {
		recon = reconciler.New(
			reconciler.Config{
				Interval:  cfg.ReconcileInterval,
				Threshold: cfg.ReconcileThreshold,
				BatchSize: cfg.ReconcileBatchSize,
			},
			store,
			bus,
		)
		if metricsSink != nil {
			recon = recon.WithMetrics(metricsSink)
		}
		log.Printf("continuum: reconciler enabled (interval=%s, threshold=%s, batch=%d)",
			cfg.ReconcileInterval, cfg.ReconcileThreshold, cfg.ReconcileBatchSize)
	} else {
		log.Println("continuum: RECONCILE_ENABLED not set; reconciler disabled")
	}

	// Separate contexts per component to enable ordered shutdown.
	notifierCtx, cancelNotifier := context.WithCancel(context.Background())
	var notifierWg sync.WaitGroup
	notifierWg.Add(1)
	go func() {
		defer notifierWg.Done()
		notif.Run(notifierCtx, bus.Events())
	}()

	// runEvaluators drives the scheduler and reconciler; under leader
	// election it only runs while this instance holds the lock.
	runEvaluators := func(ctx context.Context, wg *sync.WaitGroup) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.Run(ctx)
		}()
		if recon != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				recon.Run(ctx)
			}()
		}
	}

	evaluatorCtx, cancelEvaluators := context.WithCancel(context.Background())
	var evaluatorWg sync.WaitGroup

	var elector *leaderelection.Elector
	if cfg.LeaderEnabled {
		var leaderWg sync.WaitGroup
		elector = leaderelection.New(db,
			leaderelection.Config{
				LockKey:           cfg.LeaderLockKey,
				RetryInterval:     cfg.LeaderRetryInterval,
				HeartbeatInterval: cfg.LeaderHeartbeatInterval,
			},
			func(ctx context.Context) {
				runEvaluators(ctx, &leaderWg)
			},
			func() {
				leaderWg.Wait()
			},
		)
		if metricsSink != nil {
			elector = elector.WithMetrics(metricsSink)
		}
		evaluatorWg.Add(1)
		go func() {
			defer evaluatorWg.Done()
			elector.Run(evaluatorCtx)
		}()
		log.Printf("continuum: leader election enabled (lock_key=%d)", cfg.LeaderLockKey)
	} else {
		runEvaluators(evaluatorCtx, &evaluatorWg)
	}

	// HTTP surface: API plus optional metrics endpoint on the same listener.
	apiHandler := api.NewHandler(store, sched, normalizer, store)
	if metricsSink != nil {
		apiHandler = apiHandler.WithMetrics(metricsSink)
	}

	mux := http.NewServeMux()
	if cfg.MetricsEnabled {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}
	mux.Handle("/", apiHandler)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}
	go func() {
		log.Printf("continuum: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("continuum: http server error: %v", err)
		}
	}()

	log.Printf("continuum: started (tick=%s, http=%s, store=%s)", cfg.TickInterval, cfg.HTTPAddr, cfg.StoreBackend)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("continuum: received signal %v, shutting down", received)

	// Phase 1: stop producing decisions (scheduler, reconciler, leadership).
	log.Println("continuum: stopping evaluators...")
	cancelEvaluators()
	evaluatorWg.Wait()
	log.Println("continuum: evaluators stopped")

	// Phase 2: stop the notifier; it drains buffered events before returning.
	log.Println("continuum: stopping notifier (draining events)...")
	cancelNotifier()
	notifierWg.Wait()
	log.Println("continuum: notifier stopped")

	// Phase 3: graceful HTTP shutdown.
	log.Println("continuum: stopping http server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("continuum: http server shutdown error: %v", err)
	}
	log.Println("continuum: http server stopped")

	log.Println("continuum: stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("continuum version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
