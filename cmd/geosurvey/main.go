package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"example.com/geosurvey/internal/config"
	"example.com/geosurvey/internal/engine"
	"example.com/geosurvey/internal/geo"
	"example.com/geosurvey/internal/geocode"
	"example.com/geosurvey/internal/ingest"
	"example.com/geosurvey/internal/logger"
	"example.com/geosurvey/internal/notify"
	spg "example.com/geosurvey/internal/storage/postgres"
	transport "example.com/geosurvey/internal/transport/http"
)

func main() {
	log := logger.New("geosurvey")

	cfg, err := config.Parse()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		log.Fatal().Err(err).Msg("policy")
	}
	log.Info().
		Str("port", cfg.Port).
		Str("areas_file", cfg.AreasFile).
		Str("policy_file", cfg.PolicyFile).
		Bool("postgres", cfg.PostgresDSN != "").
		Bool("geocoder", cfg.GeocoderURL != "").
		Dur("dwell_threshold", policy.DwellThreshold).
		Int("daily_cap", policy.DailyCap).
		Msg("geosurvey starting")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	index := geo.NewIndex()
	if cfg.AreasFile != "" {
		loadAreas(index, cfg, log)
	} else {
		log.Warn().Msg("AREAS_FILE not set, no areas will match")
	}

	// audit log
	var audit notify.AuditSink
	var stats transport.TriggerStats
	var ingestor *ingest.Ingestor
	// the audit sink outlives the signal context so shutdown-time records still reach the DB
	ingestCtx, stopIngest := context.WithCancel(context.Background())
	defer stopIngest()
	if cfg.PostgresDSN != "" {
		db, err := spg.ConnectWithRetry(ctx, cfg.PostgresDSN, cfg.DBConnectAttempts, log)
		if err != nil {
			log.Fatal().Err(err).Msg("db connect")
		}
		defer db.Close()
		log.Info().Msg("db: connected")

		mig := filepath.Join("migrations", "0001_init.sql")
		if err := db.RunMigration(ctx, mig); err != nil {
			log.Fatal().Err(err).Msg("migration")
		}
		log.Info().Msg("db: migration applied")

		ingestor = ingest.NewIngestor(spg.NewWriter(db), cfg.QueueMaxSize, cfg.BatchMaxSize, cfg.BatchMaxWait, log)
		ingestor.Start(ingestCtx)
		log.Info().Int("queue", cfg.QueueMaxSize).Int("batch", cfg.BatchMaxSize).Dur("wait", cfg.BatchMaxWait).Msg("ingest: started")
		audit, stats = ingestor, db
	}

	// notifications
	clock := func() time.Time { return time.Now().UTC() }
	hub := notify.NewHub(log)
	scheduler := notify.NewScheduler(hub, audit, clock, log)
	hub.OnMessage(scheduler.HandleFrame)
	dispatcher := notify.NewDispatcher(scheduler, cfg.NotifyQueueSize, log)
	dispatcher.Start(ctx)

	// engines
	deps := engine.Deps{
		Index:    index,
		Emitter:  dispatcher,
		Clock:    clock,
		Location: cfg.Location,
		Log:      log,
	}
	if cfg.GeocoderURL != "" {
		policy.GeocodeTimeout = cfg.GeocoderTimeout
		deps.Geocoder = geocode.New(cfg.GeocoderURL, cfg.GeocoderTimeout)
	}
	registry := engine.NewRegistry(policy, deps)
	go registry.Run(ctx, cfg.DwellPollInterval)

	server := &transport.ServerDeps{
		Cfg:      cfg,
		Engines:  registry,
		Index:    index,
		Notifier: scheduler,
		Sockets:  hub,
		Now:      clock,
		Stats:    stats,
		Log:      log,
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = srv.Shutdown(shutdownCtx)

	registry.StopAll()
	scheduler.Close()
	hub.Close(shutdownCtx)
	<-dispatcher.Done()
	stopIngest()
	if ingestor != nil {
		select {
		case <-ingestor.Done():
		case <-shutdownCtx.Done():
			log.Warn().Msg("audit flush timed out")
		}
	}
}

func loadAreas(index *geo.Index, cfg config.Config, log zerolog.Logger) {
	areas, err := geo.LoadFile(cfg.AreasFile, cfg.AreaNameProperty)
	for _, m := range geo.MalformedAreas(err) {
		log.Warn().Str("area", m.Name).Int("index", m.Index).Str("reason", m.Reason).Msg("area rejected")
	}
	if err != nil && len(geo.MalformedAreas(err)) == 0 {
		log.Fatal().Err(err).Str("file", cfg.AreasFile).Msg("load areas")
	}
	if err := index.Load(areas); err != nil {
		for _, m := range geo.MalformedAreas(err) {
			log.Warn().Str("area", m.Name).Str("reason", m.Reason).Msg("area rejected")
		}
	}
	log.Info().Int("areas", index.Len()).Str("file", cfg.AreasFile).Msg("areas loaded")
}
