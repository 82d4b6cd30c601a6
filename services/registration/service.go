package registration

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	uuid "github.com/satori/go.uuid"

	"github.com/shinminje20/birdie-buddies-backend/libs/redisconsumer"
	"github.com/shinminje20/birdie-buddies-backend/services/outbox"
	"github.com/shinminje20/birdie-buddies-backend/services/wallet"
)

var (
	countIntentsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registration_intents_enqueued_total",
			Help: "count of registration intents enqueued ( since last start ) broken down by session",
		},
		[]string{"session_id"},
	)
	countPromotionsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promotion_checks_enqueued_total",
			Help: "count of promotion checks enqueued ( since last start ) broken down by session",
		},
		[]string{"session_id"},
	)
)

func init() {
	prometheus.MustRegister(countIntentsEnqueued, countPromotionsEnqueued)
}

// Config carries the queue thresholds, loaded once at process start
type Config struct {
	// BacklogCap rejects new intents once a session's pending count exceeds it
	BacklogCap int64
	// IntentTTL bounds how long an idempotency key maps to its request id
	IntentTTL time.Duration
	// StatusTTL bounds how long a request status record lives
	StatusTTL time.Duration
}

// DefaultConfig returns the stock thresholds
func DefaultConfig() Config {
	return Config{
		BacklogCap: 120,
		IntentTTL:  15 * time.Minute,
		StatusTTL:  24 * time.Hour,
	}
}

// Service ties the registration datastore to the realtime bus and the
// wallet/outbox collaborators
type Service struct {
	Datastore   Datastore
	RedisClient *redis.Client
	wallet      *wallet.Service
	outbox      *outbox.Service
	cfg         Config
}

// InitService creates a registration service
func InitService(datastore Datastore, redisClient *redis.Client, walletService *wallet.Service, outboxService *outbox.Service, cfg Config) (*Service, error) {
	if cfg.BacklogCap == 0 {
		cfg = DefaultConfig()
	}
	return &Service{
		Datastore:   datastore,
		RedisClient: redisClient,
		wallet:      walletService,
		outbox:      outboxService,
		cfg:         cfg,
	}, nil
}

// EnqueuePromotion appends a promotion trigger to the session's promotion stream
func (service *Service) EnqueuePromotion(ctx context.Context, sessionID uuid.UUID) error {
	payload, err := json.Marshal(map[string]string{
		"session_id": sessionID.String(),
		"ts":         time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	streamClient := redisconsumer.NewStreamClient(service.RedisClient)
	if _, err := streamClient.AddMessages(ctx, PromoteStreamKey(sessionID), string(payload)); err != nil {
		return err
	}
	countPromotionsEnqueued.With(prometheus.Labels{"session_id": sessionID.String()}).Inc()
	return nil
}

// ListMyRegistrations returns the actor's registrations newest first
func (service *Service) ListMyRegistrations(ctx context.Context, userID uuid.UUID) ([]Registration, error) {
	return service.Datastore.ListByUser(ctx, userID)
}
