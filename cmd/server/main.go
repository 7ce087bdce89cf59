// Command server runs the news publishing API: source enqueue, the cron
// publish entry point, and the public article endpoints.
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
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-news-backend/internal/blocklist"
	"github.com/tbourn/go-news-backend/internal/config"
	httpapi "github.com/tbourn/go-news-backend/internal/http"
	"github.com/tbourn/go-news-backend/internal/observability"
	"github.com/tbourn/go-news-backend/internal/repo"
	"github.com/tbourn/go-news-backend/internal/rewrite"
	"github.com/tbourn/go-news-backend/internal/scrape"
	"github.com/tbourn/go-news-backend/internal/services"
	"github.com/tbourn/go-news-backend/internal/social"
	"github.com/tbourn/go-news-backend/internal/sysutil"
)

const version = "1.0.0"

func main() {
	// Best-effort; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		if shutdownOTel != nil {
			ctxTO, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownOTel(ctxTO)
		}
	}()

	db, err := repo.Open(cfg.DatabaseURL, repo.Options{Tracing: cfg.OTEL.Enabled})
	if err != nil {
		log.Fatal().Err(err).Msg("database open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	bl, err := blocklist.New(cfg.Blocklist)
	if err != nil {
		log.Fatal().Err(err).Msg("blocklist load failed")
	}

	publishSvc := &services.PublishService{
		DB: db,
		Policy: repo.ClaimPolicy{
			MaxAttempts:       cfg.Queue.MaxAttempts,
			ScanLimit:         cfg.Queue.ClaimScanLimit,
			RecentPostedLimit: cfg.Queue.RecentPostedLimit,
		},
		Scraper:         scrape.New(cfg.Scrape.Timeout, cfg.Scrape.UserAgent, cfg.Scrape.MinChars),
		Blocklist:       bl,
		Cooldown:        cfg.PublishCooldown,
		SlugMaxAttempts: cfg.SlugMaxAttempts,
		ExcerptMaxLen:   cfg.ExcerptMaxLen,
		SiteURL:         cfg.SiteURL,
		DefaultCategory: cfg.DefaultCategory,
		RewriteRequired: cfg.Rewrite.Required,
		Log:             log.Logger,
	}
	if cfg.Rewrite.Enabled {
		publishSvc.Rewriter = rewrite.NewRewriter(
			rewrite.NewClient(cfg.Rewrite),
			cfg.Rewrite.MaxSourceLen,
		)
	}
	if cfg.Facebook.Enabled {
		if cfg.Facebook.PageID == "" || cfg.Facebook.PageToken == "" {
			log.Warn().Msg("facebook enabled without page credentials, cross-posting disabled")
		} else {
			publishSvc.Social = social.NewPublisher(cfg.Facebook)
		}
	}

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, db, httpapi.Services{
		Publish:  publishSvc,
		Sources:  services.NewSourceService(db, bl),
		Articles: services.NewArticleService(db),
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	ctxTO, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctxTO); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// setupLogging configures the global zerolog logger from configuration.
func setupLogging(cfg config.Config) {
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
