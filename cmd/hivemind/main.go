package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/nidhogg/hivemind/internal/agent"
	"github.com/nidhogg/hivemind/internal/api"
	"github.com/nidhogg/hivemind/internal/clock"
	"github.com/nidhogg/hivemind/internal/config"
	"github.com/nidhogg/hivemind/internal/embedding"
	"github.com/nidhogg/hivemind/internal/engine"
	"github.com/nidhogg/hivemind/internal/events"
	"github.com/nidhogg/hivemind/internal/graph"
	"github.com/nidhogg/hivemind/internal/memory"
	"github.com/nidhogg/hivemind/internal/registry"
	pgstore "github.com/nidhogg/hivemind/internal/store"
	"github.com/nidhogg/hivemind/internal/vectorstore"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting hivemind...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/hivemind.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Core components.
	directory := agent.NewDirectory(logger)
	reg := registry.NewRegistry(directory, logger)
	connectors := graph.New(logger)
	memLog := memory.NewLog(memory.Config{HalfLifeDays: cfg.Memory.HalfLifeDays}, logger)

	engCfg := engine.DefaultConfig()
	if cfg.Routing.HasWeights() {
		engCfg.Weights = engine.Weights{
			Skill:           cfg.Routing.SkillWeight,
			Trust:           cfg.Routing.TrustWeight,
			Success:         cfg.Routing.SuccessWeight,
			Connector:       cfg.Routing.ConnectorWeight,
			MemoryEnabled:   cfg.Routing.MemoryPriorEnabled,
			Memory:          cfg.Routing.MemoryWeight,
			MemoryThreshold: cfg.Routing.MemoryThreshold,
		}
	}
	if cfg.Routing.LearningRate > 0 {
		engCfg.LearningRate = cfg.Routing.LearningRate
	}
	eng := engine.New(directory, reg, connectors, memLog, engCfg, logger)

	// PostgreSQL: durable decision audit and memory archive.
	var pgStore *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
			eng.SetPersister(ps)

			entries, loadErr := ps.LoadMemoryEntries(context.Background(), 0)
			if loadErr != nil {
				logger.Warn("failed to load memory archive", zap.Error(loadErr))
			} else {
				memLog.Restore(context.Background(), entries)
				logger.Info("Collective memory warmed", zap.Int("entries", len(entries)))
			}
		}
	}

	// Neo4j: connector graph mirror.
	var neoDriver neo4j.DriverWithContext
	if cfg.Database.Neo4j.URI != "" {
		driver, neoErr := neo4j.NewDriverWithContext(cfg.Database.Neo4j.URI,
			neo4j.BasicAuth(cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, ""))
		if neoErr != nil {
			logger.Warn("Neo4j unavailable, running without graph mirror", zap.Error(neoErr))
		} else {
			neoDriver = driver
			mirror := graph.NewMirror(driver, logger)
			if restored, loadErr := mirror.LoadAll(context.Background()); loadErr != nil {
				logger.Warn("failed to load mirrored connectors", zap.Error(loadErr))
			} else if len(restored) > 0 {
				connectors.Restore(restored)
				logger.Info("Connector graph warmed", zap.Int("connectors", len(restored)))
			}
			connectors.SetMirror(mirror)
		}
	}

	// Redis: routing lifecycle events.
	var bus *events.Bus
	if cfg.Database.Redis.URL != "" {
		b, busErr := events.NewBus(cfg.Database.Redis.URL, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, running without event stream", zap.Error(busErr))
		} else {
			bus = b
			eng.SetEventPublisher(b)
		}
	}

	// Qdrant: optional vector similarity index.
	var qdrant *vectorstore.Client
	if cfg.Memory.Index == "vector" && cfg.Database.Qdrant.Host != "" {
		qc, qErr := vectorstore.NewClient(vectorstore.Config{
			Host: cfg.Database.Qdrant.Host,
			Port: cfg.Database.Qdrant.Port,
		})
		if qErr != nil {
			logger.Warn("Qdrant unavailable, keeping lexical index", zap.Error(qErr))
		} else {
			embedder := embedding.NewLocalProvider(embedding.Config{
				Endpoint:  cfg.Embedding.Endpoint,
				Model:     cfg.Embedding.Model,
				Dimension: cfg.Embedding.Dimension,
			})
			index := memory.NewVectorIndex(embedder, qc, memLog.Get, logger)
			if initErr := index.Init(context.Background()); initErr != nil {
				logger.Warn("vector index init failed, keeping lexical index", zap.Error(initErr))
			} else if swapErr := memLog.SetIndex(context.Background(), index); swapErr != nil {
				logger.Warn("vector index replay failed, keeping lexical index", zap.Error(swapErr))
			} else {
				qdrant = qc
				logger.Info("Vector similarity index enabled")
			}
		}
	}

	// Maintenance clock: idle connector drift.
	interval := time.Hour
	if cfg.Routing.MaintenanceInterval != "" {
		if d, dErr := time.ParseDuration(cfg.Routing.MaintenanceInterval); dErr == nil {
			interval = d
		}
	}
	maintenance := clock.New(interval, logger)
	maintenance.AddListener(connectors)
	maintenance.Start()

	// HTTP server.
	handler := api.NewHandler(directory, reg, connectors, memLog, eng, logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("hivemind listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down hivemind...")
	maintenance.Stop()
	ctx := context.Background()
	srv.Shutdown(ctx)
	if neoDriver != nil {
		neoDriver.Close(ctx)
	}
	if bus != nil {
		bus.Close()
	}
	if qdrant != nil {
		qdrant.Close()
	}
	if pgStore != nil {
		pgStore.Close()
	}
}
