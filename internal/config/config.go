// Package config loads service configuration from an optional YAML file
// with environment variable overrides. Env always wins so container
// deployments can skip the file entirely.
package config

import (
	"os"
	"strconv"

	yaml "gopkg.in/yaml.v3"
)

type Engine struct {
	Weights struct {
		ETA         float64 `yaml:"eta"`
		Cost        float64 `yaml:"cost"`
		Inventory   float64 `yaml:"inventory"`
		LoadBalance float64 `yaml:"loadBalance"`
	} `yaml:"weights"`
	RouteWeights struct {
		ETA       float64 `yaml:"eta"`
		Cost      float64 `yaml:"cost"`
		AgentLoad float64 `yaml:"agentLoad"`
	} `yaml:"routeWeights"`
	Costs struct {
		FuelRatePerKm    float64 `yaml:"fuelRatePerKm"`
		RatingCostFactor float64 `yaml:"ratingCostFactor"`
		CostScale        float64 `yaml:"costScale"`
	} `yaml:"costs"`
}

type Config struct {
	Addr        string `yaml:"addr"`
	DatabaseURL string `yaml:"databaseUrl"`
	RedisURL    string `yaml:"redisUrl"`
	Migrate     bool   `yaml:"migrate"`

	Engine Engine `yaml:"engine"`

	RateLimit struct {
		PerSecond float64 `yaml:"perSecond"`
		Burst     int     `yaml:"burst"`
	} `yaml:"rateLimit"`

	Webhooks struct {
		MaxAttempts int `yaml:"maxAttempts"`
	} `yaml:"webhooks"`
}

// Load reads path (if non-empty and present), then applies env overrides.
// A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, err
			}
		} else if !os.IsNotExist(err) {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func defaults() Config {
	cfg := Config{Addr: ":8080", Migrate: true}
	cfg.Engine.Weights.ETA = 0.4
	cfg.Engine.Weights.Cost = 0.3
	cfg.Engine.Weights.Inventory = 0.2
	cfg.Engine.Weights.LoadBalance = 0.1
	cfg.Engine.RouteWeights.ETA = 0.4
	cfg.Engine.RouteWeights.Cost = 0.3
	cfg.Engine.RouteWeights.AgentLoad = 0.3
	cfg.Engine.Costs.FuelRatePerKm = 2000
	cfg.Engine.Costs.RatingCostFactor = 10000
	cfg.Engine.Costs.CostScale = 50000
	cfg.RateLimit.PerSecond = 50
	cfg.RateLimit.Burst = 100
	cfg.Webhooks.MaxAttempts = 10
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Addr = ":" + v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("DB_MIGRATE"); v == "false" {
		cfg.Migrate = false
	}
	if v := os.Getenv("WEBHOOK_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Webhooks.MaxAttempts = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.RateLimit.PerSecond = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimit.Burst = n
		}
	}
}
