// Command pipeline runs the cognitive triangulation pipeline: it builds
// the job tree for one run, then drives every queue-backed worker,
// the outbox publisher, and the stalled-job reaper until interrupted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cogtri/pipeline/internal/config"
	"github.com/cogtri/pipeline/internal/fileanalysis"
	"github.com/cogtri/pipeline/internal/graphbuilder"
	"github.com/cogtri/pipeline/internal/graphstore"
	"github.com/cogtri/pipeline/internal/llmclient"
	"github.com/cogtri/pipeline/internal/metrics"
	"github.com/cogtri/pipeline/internal/outbox"
	"github.com/cogtri/pipeline/internal/producer"
	"github.com/cogtri/pipeline/internal/queuemgr"
	"github.com/cogtri/pipeline/internal/resolution"
	"github.com/cogtri/pipeline/internal/store"
	"github.com/cogtri/pipeline/internal/triangulation"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	configPath := flag.String("config", getEnv("PIPELINE_CONFIG", "./config/pipeline.yaml"), "path to the YAML configuration file")
	envPath := flag.String("env-file", getEnv("PIPELINE_ENV_FILE", ".env"), "path to a .env file loaded before configuration")
	metricsAddr := flag.String("metrics-addr", getEnv("PIPELINE_METRICS_ADDR", ":9090"), "address the /metrics endpoint listens on")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		log.Printf("no .env file loaded from %s: %v", *envPath, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *metricsAddr); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("pipeline exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, metricsAddr string) error {
	st, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("closing store failed", "error", err)
		}
	}()

	rdb, err := queuemgr.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			slog.Error("closing redis client failed", "error", err)
		}
	}()
	qm := queuemgr.New(rdb, cfg.Queue)

	llm, err := llmclient.New(cfg.LLM)
	if err != nil {
		return err
	}

	gs := graphstore.NewHTTPClient(cfg.Graph.Endpoint)

	runID, err := producer.Run(ctx, st, qm, cfg.Run)
	if err != nil {
		return err
	}
	slog.Info("run started", "run_id", runID, "target_root", cfg.Run.TargetRoot)

	faWorker := fileanalysis.New(st, llm, cfg.File, cfg.LLM)
	aggWorker := resolution.NewAggregationWorker(st, qm)
	dirWorker := resolution.NewDirectoryResolutionWorker(st, qm, llm, cfg.LLM)
	globalWorker := resolution.NewGlobalResolutionWorker(st, llm, cfg.LLM)
	validationWorker := triangulation.NewValidationWorker(st, qm, cfg.Triangulation)
	reconcileWorker := triangulation.NewReconciliationWorker(st, cfg.Triangulation)
	graphWorker := graphbuilder.New(st, qm, gs, cfg.Graph)

	consumers := []*queuemgr.Consumer{
		queuemgr.NewConsumer(qm, queuemgr.QueueFileAnalyse, 2*time.Second, func(ctx context.Context, raw []byte) error {
			var p fileanalysis.Payload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decoding file-analyse payload: %w", err)
			}
			return faWorker.Process(ctx, p)
		}),
		queuemgr.NewConsumer(qm, queuemgr.QueueDirectoryAggregate, 2*time.Second, aggWorker.Process),
		queuemgr.NewConsumer(qm, queuemgr.QueueDirectoryResolve, 2*time.Second, dirWorker.Process),
		queuemgr.NewConsumer(qm, queuemgr.QueueGlobalResolve, 2*time.Second, globalWorker.Process),
		queuemgr.NewConsumer(qm, queuemgr.QueueValidation, 2*time.Second, validationWorker.Process),
		queuemgr.NewConsumer(qm, queuemgr.QueueReconciliation, 2*time.Second, reconcileWorker.Process),
	}
	for _, c := range consumers {
		c.Start(ctx)
	}

	graphWorker.Start(ctx)

	publisher := outbox.New(st, func(ctx context.Context, topic string, payload []byte) error {
		_, err := qm.Push(ctx, topic, payload)
		return err
	}, cfg.Outbox)

	var bg sync.WaitGroup
	bg.Add(1)
	go func() {
		defer bg.Done()
		if err := publisher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("outbox publisher stopped", "error", err)
		}
	}()

	bg.Add(1)
	go func() {
		defer bg.Done()
		validationWorker.RunGraceSweep(ctx, cfg.Queue.StalledInterval)
	}()

	bg.Add(1)
	go func() {
		defer bg.Done()
		qm.RunStalledReaper(ctx)
	}()

	bg.Add(1)
	go func() {
		defer bg.Done()
		sampleQueueDepth(ctx, qm)
	}()

	metricsSrv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
	bg.Add(1)
	go func() {
		defer bg.Done()
		slog.Info("metrics server listening", "addr", metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received, draining in-flight work", "grace", cfg.Queue.ShutdownGrace)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.ShutdownGrace)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	for _, c := range consumers {
		c.Stop()
	}
	graphWorker.Stop()
	bg.Wait()

	return nil
}

// sampleQueueDepth periodically records every allow-listed queue's
// length as a gauge, so metrics reflect backlog even between job
// claims.
func sampleQueueDepth(ctx context.Context, qm *queuemgr.Manager) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, q := range queuemgr.Queues {
				depth, err := qm.QueueDepth(ctx, q)
				if err != nil {
					slog.Error("sampling queue depth failed", "queue", q, "error", err)
					continue
				}
				metrics.QueueDepth.WithLabelValues(q).Set(float64(depth))
			}
		}
	}
}
