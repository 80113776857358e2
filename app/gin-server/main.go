package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/mockcall/config"
	"github.com/yoockh/mockcall/internal/api/handlers"
	"github.com/yoockh/mockcall/internal/api/middleware"
	"github.com/yoockh/mockcall/internal/api/routes"
	"github.com/yoockh/mockcall/internal/cache"
	"github.com/yoockh/mockcall/internal/callcontext"
	"github.com/yoockh/mockcall/internal/congruency"
	"github.com/yoockh/mockcall/internal/logger"
	"github.com/yoockh/mockcall/internal/providers/llm"
	mongorepo "github.com/yoockh/mockcall/internal/repositories/mongo"
	pgrepo "github.com/yoockh/mockcall/internal/repositories/postgres"
	"github.com/yoockh/mockcall/internal/services"
	"github.com/yoockh/mockcall/internal/session"
	"github.com/yoockh/mockcall/internal/storage"
	"github.com/yoockh/mockcall/internal/workers"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("config load failed")
	}
	if cfg.Environment != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Init MongoDB
	mongoClient, err := config.InitMongo(cfg.Mongo)
	if err != nil {
		log.WithError(err).Fatal("MongoDB init error")
	}
	mongoDB := mongoClient.Database(cfg.Mongo.Database)
	if err := config.EnsureMongoIndexes(mongoDB); err != nil {
		log.WithError(err).Fatal("MongoDB index error")
	}
	log.Info("MongoDB connected")

	// Init PostgreSQL
	pg, err := config.InitPostgres(cfg.Postgres)
	if err != nil {
		log.WithError(err).Fatal("PostgreSQL init error")
	}
	log.Info("PostgreSQL connected")

	// Init Redis
	rdb, err := config.InitRedis(cfg.Redis)
	if err != nil {
		log.WithError(err).Fatal("Redis init error")
	}
	log.Info("Redis connected")

	provider, err := llm.NewVertexGemini(ctx, cfg.Vertex.ProjectID, cfg.Vertex.Location, cfg.Vertex.Model)
	if err != nil {
		log.WithError(err).Fatal("Vertex AI init error")
	}

	var (
		archive storage.Uploader
		signer  storage.Signer
	)
	if cfg.GCSBucket != "" {
		gcsStore, err := storage.NewGCSStore(ctx, cfg.GCSBucket)
		if err != nil {
			log.WithError(err).Fatal("GCS init error")
		}
		defer gcsStore.Close()
		archive, signer = gcsStore, gcsStore
	} else {
		log.Warn("GCS_BUCKET not set; transcripts will not be archived")
	}

	contexts := callcontext.New(cache.NewRedisCache(rdb, log), cfg.Call.ContextTTL)
	events := services.NewCallEventService(mongorepo.NewCallEventRepo(mongoDB), cfg.Call.EventTTL)
	credits := services.NewCreditService(pgrepo.NewCreditRepo(pg), log)
	feedbackSvc := services.NewFeedbackService(pgrepo.NewFeedbackRepo(pg), pgrepo.NewTranscriptRepo(pg))

	gateCfg := congruency.Config{
		WindowStartMinutes: cfg.Call.CheckWindowStart,
		WindowEndMinutes:   cfg.Call.CheckWindowEnd,
		MinTurns:           cfg.Call.CheckMinTurns,
		Timeout:            cfg.Call.CheckTimeout,
		ExtremeConfidence:  cfg.Call.ExtremeConfidence,
	}
	reviewCfg := gateCfg
	reviewCfg.Timeout = 0

	creditPool := &workers.StreamPool{
		Redis:      rdb,
		NumWorkers: cfg.Workers.CreditWorkers,
		Logger:     log.WithField("pool", "credits"),
		Stream:     cfg.Workers.CreditStream,
		Group:      cfg.Workers.ConsumerGroup,
		MinIdle:    workers.DefaultMinIdle,
		Handler: (&workers.CreditRestoreHandler{
			Credits:    credits,
			Logger:     log,
			MaxElapsed: workers.DefaultRetryBudget,
		}).Handle,
	}
	feedbackPool := &workers.StreamPool{
		Redis:      rdb,
		NumWorkers: cfg.Workers.FeedbackWorkers,
		Logger:     log.WithField("pool", "feedback"),
		Stream:     cfg.Workers.FeedbackStream,
		Group:      cfg.Workers.ConsumerGroup,
		MinIdle:    workers.DefaultMinIdle,
		Handler: (&workers.FeedbackHandler{
			Sink:       feedbackSvc,
			Archive:    archive,
			Reviewer:   congruency.NewReviewer(provider, reviewCfg),
			Contexts:   contexts,
			Logger:     log,
			MaxElapsed: workers.DefaultRetryBudget,
		}).Handle,
	}
	for _, p := range []*workers.StreamPool{creditPool, feedbackPool} {
		if err := p.Start(ctx); err != nil {
			log.WithError(err).Fatal("worker pool start failed")
		}
	}

	registry := session.NewRegistry(log)
	callWS := handlers.NewCallWSHandler(handlers.CallWSDeps{
		Contexts:  contexts,
		Registry:  registry,
		Generator: provider,
		Judge:     provider,
		Restorer:  &workers.CreditRestoreQueue{Redis: rdb, Stream: cfg.Workers.CreditStream},
		Events:    events,
		Config: handlers.CallWSConfig{
			Session: session.Config{
				MaxMinutes:  cfg.Call.MaxMinutes,
				Temperature: cfg.Vertex.Temperature,
				MaxTokens:   cfg.Vertex.MaxTokens,
			},
			Gate: gateCfg,
			Agents: session.Agents{
				Default: cfg.Call.DefaultAgentID,
				Spanish: cfg.Call.SpanishAgentID,
			},
			ReadTimeout:  cfg.Call.SocketReadTimeout,
			WriteTimeout: cfg.Call.SocketWriteTimeout,
		},
		Log: log,
	})

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))
	routes.RegisterRoutes(r, routes.Deps{
		JWT: middleware.JWTConfig{
			Secret:   cfg.JWT.Secret,
			Issuer:   cfg.JWT.Issuer,
			Audience: cfg.JWT.Audience,
		},
		CallContext: handlers.NewCallContextHandler(contexts, events),
		Feedback: handlers.NewFeedbackHandler(
			&workers.FeedbackQueue{Redis: rdb, Stream: cfg.Workers.FeedbackStream},
			feedbackSvc,
			signer,
		),
		CallWS: callWS,
		Live:   registry.Count,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("port", cfg.Port).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdown(log, cfg.Call.ShutdownGracePeriod, registry, srv, creditPool, feedbackPool)

	_ = provider.Close()
	_ = rdb.Close()
	if sqlDB, err := pg.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = mongoClient.Disconnect(context.Background())
}

// shutdown ends live calls first; their closing lines and restore
// hand-offs need the socket and Redis still open.
func shutdown(log logrus.FieldLogger, grace time.Duration, registry *session.Registry, srv *http.Server, pools ...*workers.StreamPool) {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	registry.CloseAll(ctx)
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}

	done := make(chan struct{})
	go func() {
		for _, p := range pools {
			p.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("worker pools did not drain in time")
	}
}
