package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	// pprof attaches routes to the default serve mux
	_ "net/http/pprof"

	sentry "github.com/getsentry/sentry-go"
	"github.com/go-chi/chi"
	chiware "github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	appctx "github.com/shinminje20/birdie-buddies-backend/libs/context"
	"github.com/shinminje20/birdie-buddies-backend/libs/handlers"
	"github.com/shinminje20/birdie-buddies-backend/libs/logging"
	"github.com/shinminje20/birdie-buddies-backend/libs/middleware"
	"github.com/shinminje20/birdie-buddies-backend/libs/requestutils"
	"github.com/shinminje20/birdie-buddies-backend/services/registration"
	"github.com/shinminje20/birdie-buddies-backend/services/session"
	"github.com/shinminje20/birdie-buddies-backend/services/wallet"
)

func init() {
	RootCmd.AddCommand(ServeCmd)

	flagBuilder := NewFlagBuilder(ServeCmd)

	flagBuilder.String("address", ":8080",
		"the address to bind to").
		Bind("address").Env("ADDR")

	flagBuilder.Bool("enable-job-workers", true,
		"run the outbox dispatcher, session workers and auto closer in-process").
		Bind("enable-job-workers").Env("ENABLE_JOB_WORKERS")

	registerTuningFlags(flagBuilder)
}

// ServeCmd starts the REST api
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "start the registration REST api",
	Run:   Perform("serve", RunServe),
}

// RunServe is the runner for the serve command
func RunServe(command *cobra.Command, args []string) error {
	ctx := command.Context()
	logger, err := appctx.GetLogger(ctx)
	if err != nil {
		ctx, logger = logging.SetupLogger(ctx)
	}

	sentryDsn := os.Getenv("SENTRY_DSN")
	if sentryDsn != "" {
		buildTime := ctx.Value(appctx.BuildTimeCTXKey).(string)
		commit := ctx.Value(appctx.CommitCTXKey).(string)
		err := sentry.Init(sentry.ClientOptions{
			Dsn:     sentryDsn,
			Release: fmt.Sprintf("birdied@%s-%s", commit, buildTime),
		})
		defer sentry.Flush(2 * time.Second)
		if err != nil {
			logger.Panic().Err(err).Msg("unable to setup reporting!")
		}
	}

	// pprof attaches routes to default serve mux
	if viper.GetString("pprof-enabled") != "" {
		go func() {
			logger.Error().Err(http.ListenAndServe(":6061", http.DefaultServeMux)).Msg("pprof server exited")
		}()
	}

	svcs, err := initServices(ctx, true)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize services")
	}

	r := setupRouter(ctx, svcs)

	if viper.GetBool("enable-job-workers") {
		consumerID := viper.GetString("consumer-id")
		go func() {
			if err := svcs.outbox.RunDispatcher(ctx, viper.GetDuration("outbox-interval"), viper.GetInt("outbox-batch")); err != nil {
				logger.Error().Err(err).Msg("outbox dispatcher exited")
			}
		}()
		go func() {
			if err := svcs.registrations.RunSessionWorkers(ctx, consumerID); err != nil {
				logger.Error().Err(err).Msg("session workers exited")
			}
		}()
		go func() {
			if err := svcs.sessions.RunAutoCloser(ctx); err != nil {
				logger.Error().Err(err).Msg("auto closer exited")
			}
		}()
	}

	logger.Info().Str("address", viper.GetString("address")).Msg("starting server")

	srv := http.Server{
		Addr:         viper.GetString("address"),
		Handler:      chi.ServerBaseContext(ctx, r),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0,
	}
	if err := srv.ListenAndServe(); err != nil {
		sentry.CaptureException(err)
		logger.Fatal().Err(err).Msg("HTTP server start failed!")
	}
	return nil
}

func setupRouter(ctx context.Context, svcs *services) *chi.Mux {
	logger, err := appctx.GetLogger(ctx)
	if err != nil {
		// no logger on context, make a new one
		ctx, logger = logging.SetupLogger(ctx)
	}

	r := chi.NewRouter()
	r.Use(
		chiware.RequestID,
		chiware.RealIP,
		chiware.Heartbeat("/"),
		middleware.RequestIDTransfer)
	if logger != nil {
		// Also handles panic recovery
		r.Use(
			hlog.NewHandler(*logger),
			hlog.UserAgentHandler("user_agent"),
			hlog.RequestIDHandler("req_id", "Request-Id"),
			middleware.RequestLogger(logger))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Idempotency-Key", requestutils.ActorIDHeaderKey, requestutils.RequestIDHeaderKey},
		MaxAge:         300,
	}))

	version := ctx.Value(appctx.VersionCTXKey).(string)
	buildTime := ctx.Value(appctx.BuildTimeCTXKey).(string)
	commit := ctx.Value(appctx.CommitCTXKey).(string)
	r.Get("/health-check", handlers.HealthCheckHandler(version, buildTime, commit, nil))
	r.Get("/metrics", middleware.Metrics())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.ActorRequired(svcs.sessions.ActorLookup))

		r.Mount("/wallet", wallet.Router(svcs.wallet))
		r.Mount("/sessions", session.Router(svcs.sessions, svcs.registrations))
		r.Mount("/registrations", registration.Router(svcs.registrations))

		requests := registration.RequestRouter(svcs.registrations)
		requests.Method("GET", "/{requestID}/events", middleware.InstrumentHandler(
			"StreamRequestEvents", session.StreamRequestEvents(svcs.redis)))
		r.Mount("/requests", requests)

		r.Method("GET", "/me/registrations", middleware.InstrumentHandler(
			"GetMyRegistrations", registration.GetMyRegistrations(svcs.registrations)))
	})

	return r
}
