// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/pulsefit/arena/internal/cache"
	"github.com/pulsefit/arena/internal/config"
	"github.com/pulsefit/arena/internal/database"
	"github.com/pulsefit/arena/internal/duel"
	"github.com/pulsefit/arena/internal/handlers"
	"github.com/pulsefit/arena/internal/matchmaking"
	"github.com/pulsefit/arena/internal/metrics"
	"github.com/pulsefit/arena/internal/middleware"
	"github.com/pulsefit/arena/internal/profile"
	"github.com/pulsefit/arena/internal/trust"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	ctx := context.Background()

	db, err := database.Connect(ctx)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close()

	rc, err := cache.Connect(ctx)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer rc.Close()

	var reports duel.ReportChecker
	if path := os.Getenv("ATTESTATION_PUBKEY_PATH"); path != "" {
		rv, err := trust.LoadReportVerifier(path)
		if err != nil {
			log.Fatalf("failed to load attestation key: %v", err)
		}
		reports = rv
	} else {
		logger.Warn("ATTESTATION_PUBKEY_PATH not set; integrity reports will be ignored")
	}

	profiles := profile.NewStore(db, db, cfg, logger)
	duels := duel.NewStore()
	feed := duel.NewFeed()

	// Every lifecycle event goes to the in-process WS feed and to the redis
	// queue the notification dispatcher consumes.
	emit := func(ev duel.Event) {
		feed.Publish(ev)
		if err := rc.PublishDuelEvent(context.Background(), ev); err != nil {
			logger.WithError(err).Error("failed to publish duel event")
		}
	}

	resolver := duel.NewResolver(duels, profiles, rc, db, db, reports, emit, cfg, logger)
	resolver.Start()
	defer resolver.Close()

	engine := matchmaking.NewEngine(profiles, resolver, cfg, logger)
	engine.Start()
	defer engine.Close()

	mux := http.NewServeMux()
	logMW := middleware.LogMiddleware(logger)

	mux.Handle("/matchmaking/enqueue", logMW(handlers.EnqueueHandler(engine)))
	mux.Handle("/matchmaking/withdraw", logMW(handlers.WithdrawHandler(engine)))
	mux.Handle("/matchmaking/ticket", logMW(handlers.TicketHandler(engine)))

	mux.Handle("/duel/accept", logMW(handlers.AcceptHandler(resolver)))
	mux.Handle("/duel/submit", logMW(handlers.SubmitHandler(resolver)))
	mux.Handle("/duel", logMW(handlers.GetDuelHandler(resolver)))
	mux.Handle("/duel/ws", http.HandlerFunc(handlers.DuelWSHandler(logger, resolver, feed)))

	mux.Handle("/profile/calibrate", logMW(handlers.CalibrateHandler(resolver)))
	mux.Handle("/profile", logMW(handlers.GetProfileHandler(profiles)))

	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	addr := cfg.Addr
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
