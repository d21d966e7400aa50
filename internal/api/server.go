package api

import (
	"strings"

	"mfcnet/internal/config"
	"mfcnet/internal/engine"
	"mfcnet/internal/store"
	"mfcnet/internal/webhooks"
)

// topicAllocations is the broker topic all allocation and recommendation
// events publish to.
const topicAllocations = "events"

type Server struct {
	Store  store.Store
	Engine *engine.Engine
	Pub    *webhooks.Publisher
	Broker EventBroker

	maxWebhookAttempts int
}

// NewServer wires the store, engine and brokers from config. An empty
// DATABASE_URL selects the in-memory store; an empty REDIS_URL selects the
// in-process broker.
func NewServer(cfg config.Config) (*Server, error) {
	var s store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			_ = sp.MigrateDir("db/migrations")
		}
		s = sp
	}

	eng, err := engine.New(
		engine.Weights(cfg.Engine.Weights),
		engine.RouteWeights(cfg.Engine.RouteWeights),
		engine.CostModel(cfg.Engine.Costs),
	)
	if err != nil {
		return nil, err
	}

	var broker EventBroker
	if cfg.RedisURL != "" {
		if rb, err := NewRedisBroker(cfg.RedisURL); err == nil {
			broker = rb
		} else {
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}

	return &Server{
		Store:              s,
		Engine:             eng,
		Pub:                webhooks.NewPublisher(s),
		Broker:             broker,
		maxWebhookAttempts: cfg.Webhooks.MaxAttempts,
	}, nil
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.maxWebhookAttempts)
}
