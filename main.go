package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go/v7"

	"gatherly/config"
	"gatherly/handlers"
	_ "gatherly/migrations"
	"gatherly/models"
	"gatherly/monitoring"
	"gatherly/security"
	"gatherly/services"
	"gatherly/utils"
)

func main() {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	// Initialize PubNub
	pnConfig := pubnub.NewConfigWithUserId(pubnub.UserId("gatherly-checkin"))
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey
	pn := pubnub.NewPubNub(pnConfig)

	// Initialize services
	lockService := services.NewLockService(redisClient)
	checkinService := services.NewCheckinService(app, lockService, pn, cfg)
	overrideService := services.NewOverrideService(checkinService, cfg)

	// Initialize handlers
	checkinHandler := handlers.NewCheckinHandler(checkinService)
	overrideHandler := handlers.NewOverrideHandler(overrideService)
	settingsHandler := handlers.NewSettingsHandler(app, checkinService)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.EnableMetrics {
		go monitoring.NewMonitor(redisClient, cfg.MetricsInterval).Run(ctx)
		go serveMetrics(cfg.MetricsPort)
	}

	// Setup graceful shutdown
	go handleShutdown(cancel)

	registerHooks(app)

	// Register routes
	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		checkinHandler.Register(se)
		overrideHandler.Register(se)
		settingsHandler.Register(se)

		// Health check
		se.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(http.StatusOK, map[string]string{"status": "healthy"})
		})

		slog.Info("server routes registered")

		return se.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
}

// registerHooks keeps invite fingerprints current and bootstraps the policy
// record when an enterprise event is created.
func registerHooks(app *pocketbase.PocketBase) {
	app.OnRecordCreate("invites").BindFunc(func(e *core.RecordEvent) error {
		if e.Record.GetString("code") == "" {
			code, err := utils.GenerateInviteCode(10)
			if err != nil {
				return err
			}
			e.Record.Set("code", code)
		}
		if e.Record.GetInt("trust_score") == 0 {
			e.Record.Set("trust_score", 100)
		}
		refreshFingerprint(e.App, e.Record)
		return e.Next()
	})

	app.OnRecordUpdate("invites").BindFunc(func(e *core.RecordEvent) error {
		refreshFingerprint(e.App, e.Record)
		return e.Next()
	})

	app.OnRecordAfterCreateSuccess("events").BindFunc(func(e *core.RecordEvent) error {
		if !e.Record.GetBool("enterprise") {
			return e.Next()
		}

		collection, err := e.App.FindCollectionByNameOrId("checkin_settings")
		if err != nil {
			return e.Next()
		}
		rec := core.NewRecord(collection)
		rec.Set("event", e.Record.Id)
		models.DefaultCheckinSettings(e.Record.Id).ApplyTo(rec)
		if err := e.App.Save(rec); err != nil {
			slog.Error("bootstrap checkin settings", "event", e.Record.Id, "error", err)
		}
		return e.Next()
	})
}

// refreshFingerprint recomputes the identity hash from the guest fields
// using the event's duplicate-detection mode, defaulting to strict when no
// policy record exists yet.
func refreshFingerprint(app core.App, rec *core.Record) {
	mode := models.DuplicateModeStrict
	set, err := app.FindFirstRecordByFilter("checkin_settings", "event = {:event}", dbx.Params{"event": rec.GetString("event")})
	if err == nil {
		if m := set.GetString("duplicate_mode"); m != "" {
			mode = m
		}
	}

	rec.Set("fingerprint", security.Fingerprint(
		rec.GetString("guest_name"),
		rec.GetString("guest_email"),
		rec.GetString("guest_phone"),
		mode,
	))
}

func serveMetrics(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	slog.Info("metrics server listening", "port", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		slog.Error("metrics server", "error", err)
	}
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	slog.Info("shutdown signal received, cleaning up")
	cancel()
}
