package cmd

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/shinminje20/birdie-buddies-backend/libs/datastore"
	"github.com/shinminje20/birdie-buddies-backend/services/outbox"
	"github.com/shinminje20/birdie-buddies-backend/services/registration"
	"github.com/shinminje20/birdie-buddies-backend/services/session"
	"github.com/shinminje20/birdie-buddies-backend/services/wallet"
)

// services bundles the initialized service graph for a subcommand
type services struct {
	wallet        *wallet.Service
	outbox        *outbox.Service
	registrations *registration.Service
	sessions      *session.Service
	redis         *redis.Client
}

// initServices wires the full service graph from viper configuration. The
// wallet datastore runs migrations; the others share the schema.
func initServices(ctx context.Context, performMigration bool) (*services, error) {
	databaseURL := viper.GetString("datastore-url")

	walletPG, err := wallet.NewPostgres(databaseURL, performMigration)
	if err != nil {
		return nil, err
	}
	outboxPG, err := outbox.NewPostgres(databaseURL, false)
	if err != nil {
		return nil, err
	}
	registrationPG, err := registration.NewPostgres(databaseURL, false)
	if err != nil {
		return nil, err
	}
	sessionPG, err := session.NewPostgres(databaseURL, false)
	if err != nil {
		return nil, err
	}

	redisClient, err := datastore.NewRedisClient(ctx, viper.GetString("redis-url"))
	if err != nil {
		return nil, err
	}

	walletService, err := wallet.InitService(walletPG)
	if err != nil {
		return nil, err
	}
	outboxService, err := outbox.InitService(outboxPG, redisClient)
	if err != nil {
		return nil, err
	}
	registrationService, err := registration.InitService(registrationPG, redisClient, walletService, outboxService, registration.Config{
		BacklogCap: viper.GetInt64("backlog-cap"),
		IntentTTL:  viper.GetDuration("intent-ttl"),
		StatusTTL:  viper.GetDuration("status-ttl"),
	})
	if err != nil {
		return nil, err
	}
	sessionService, err := session.InitService(sessionPG, redisClient, walletService, outboxService, registrationService, session.Config{
		AutoCloseGrace:    viper.GetDuration("auto-close-grace"),
		AutoCloseInterval: viper.GetDuration("auto-close-interval"),
		AutoCloseBatch:    viper.GetInt("auto-close-batch"),
		CloserLockTTL:     viper.GetDuration("closer-lock-ttl"),
	})
	if err != nil {
		return nil, err
	}

	return &services{
		wallet:        walletService,
		outbox:        outboxService,
		registrations: registrationService,
		sessions:      sessionService,
		redis:         redisClient,
	}, nil
}

// registerTuningFlags attaches the shared queue/closer tunables to a command
func registerTuningFlags(flagBuilder *FlagBuilder) {
	flagBuilder.Int("backlog-cap", 120,
		"per-session pending intent cap before submissions are rejected").
		Bind("backlog-cap").Env("BACKLOG_CAP")
	flagBuilder.Duration("intent-ttl", registration.DefaultConfig().IntentTTL,
		"how long an idempotency key maps to its request id").
		Bind("intent-ttl").Env("INTENT_TTL")
	flagBuilder.Duration("status-ttl", registration.DefaultConfig().StatusTTL,
		"how long a request status record lives").
		Bind("status-ttl").Env("STATUS_TTL")
	flagBuilder.Duration("auto-close-grace", session.DefaultConfig().AutoCloseGrace,
		"how long past start a session may stay scheduled").
		Bind("auto-close-grace").Env("AUTO_CLOSE_GRACE")
	flagBuilder.Duration("auto-close-interval", session.DefaultConfig().AutoCloseInterval,
		"the auto closer scan period").
		Bind("auto-close-interval").Env("AUTO_CLOSE_INTERVAL")
	flagBuilder.Int("auto-close-batch", session.DefaultConfig().AutoCloseBatch,
		"sessions closed per auto closer scan").
		Bind("auto-close-batch").Env("AUTO_CLOSE_BATCH")
	flagBuilder.Duration("closer-lock-ttl", session.DefaultConfig().CloserLockTTL,
		"the auto closer cooperative lock expiry").
		Bind("closer-lock-ttl").Env("CLOSER_LOCK_TTL")
	flagBuilder.Duration("outbox-interval", 500*time.Millisecond,
		"the outbox dispatcher poll period").
		Bind("outbox-interval").Env("OUTBOX_INTERVAL")
	flagBuilder.Int("outbox-batch", 100,
		"outbox rows published per dispatcher pass").
		Bind("outbox-batch").Env("OUTBOX_BATCH")
	flagBuilder.String("consumer-id", "c1",
		"the stream consumer identifier for this process").
		Bind("consumer-id").Env("CONSUMER_ID")
}
