// Command orchestratord is the orchestrator's composition root: it wires the
// persistence layer, the domain engines, and the background scheduler/sweep
// loops into a single long-running process.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/compozy/orchestra/engine/agentexec"
	"github.com/compozy/orchestra/engine/approval"
	"github.com/compozy/orchestra/engine/condition"
	"github.com/compozy/orchestra/engine/infra/cache"
	"github.com/compozy/orchestra/engine/infra/postgres"
	"github.com/compozy/orchestra/engine/llm"
	"github.com/compozy/orchestra/engine/metrics"
	"github.com/compozy/orchestra/engine/orchestrator"
	"github.com/compozy/orchestra/engine/schedule"
	"github.com/compozy/orchestra/engine/tool"
	"github.com/compozy/orchestra/pkg/config"
	"github.com/compozy/orchestra/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.FromContext(ctx).Error("orchestratord exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	if err := config.Initialize(ctx, nil,
		config.NewDefaultProvider(),
		config.NewYAMLProvider(configFilePath()),
		config.NewEnvProvider(),
	); err != nil {
		return err
	}
	cfg := config.Get()

	log := logger.NewLogger(&logger.Config{
		Level: logger.LogLevel(cfg.Runtime.LogLevel),
	})
	ctx = logger.ContextWithLogger(ctx, log)

	pgCfg := &postgres.Config{
		ConnString:      cfg.Database.ConnString,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}
	if err := postgres.ApplyMigrationsWithLock(ctx, postgres.DSN(pgCfg)); err != nil {
		return err
	}
	store, err := postgres.NewStore(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close(ctx) }()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = redisClient.Close() }()
	locker := cache.NewLockManager(redisClient, "orchestra:lock:")

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	conditions, err := condition.NewCELEvaluator()
	if err != nil {
		return err
	}

	pool := store.Pool()
	agents := postgres.NewAgentRepo(pool)
	tools := postgres.NewToolRepo(pool)
	workflows := postgres.NewWorkflowRepo(pool)
	executions := postgres.NewExecutionRepo(pool)
	agentExecs := postgres.NewAgentExecRepo(pool)
	approvals := postgres.NewApprovalRepo(pool)
	schedules := postgres.NewScheduleRepo(pool)

	gateway := llm.NewAnthropicGateway(cfg.LLM.AnthropicAPIKey, cfg.LLM.DefaultModel)

	// Dispatcher and the agent engine reference each other (invoke_agent_<id>
	// routing needs a live engine; the engine needs a live dispatcher to call
	// tools through), so both are wired with a setter after construction.
	dispatcher := tool.NewDispatcher(tools, nil)
	agentEngine := agentexec.New(agents, agentExecs, dispatcher, gateway, m,
		agentexec.WithMaxIterations(cfg.Limits.MaxAgentIterations))
	dispatcher.SetAgentInvoker(agentEngine)

	// Same cycle between the orchestrator and the approval coordinator.
	orch := orchestrator.New(workflows, executions, agentEngine, nil, conditions, m,
		orchestrator.WithDefaultStepTimeout(cfg.Limits.DefaultStepTimeout),
		orchestrator.WithDefaultApprovalTimeout(cfg.Limits.DefaultApprovalTTL),
		orchestrator.WithWaveConcurrency(cfg.Limits.MaxConcurrentStepsInWave))
	approvalCoordinator := approval.NewCoordinator(approvals, orch, approval.WithMetrics(m))
	orch.SetApprovalCreator(approvalCoordinator)

	scheduler := schedule.New(schedules, orch,
		schedule.WithTickInterval(cfg.Scheduler.TickInterval),
		schedule.WithLocker(locker),
		schedule.WithMetrics(m))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("observability endpoint listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("scheduler stopped unexpectedly", "error", err)
		}
	}()
	go runApprovalSweep(ctx, approvalCoordinator, log)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// runApprovalSweep periodically transitions PENDING approval requests past
// their deadline to TIMEOUT, resuming their workflow executions as rejected.
func runApprovalSweep(ctx context.Context, coordinator *approval.Coordinator, log logger.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := coordinator.SweepTimeouts(ctx); err != nil {
				log.Error("approval timeout sweep failed", "error", err)
			}
		}
	}
}

func configFilePath() string {
	if path := os.Getenv("ORCHESTRA_CONFIG_FILE"); path != "" {
		return path
	}
	return "orchestra.yaml"
}
