package main

import (
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/dlorp/synapse-engine-sub002/domain/complexity"
	"github.com/dlorp/synapse-engine-sub002/domain/coordinator"
	"github.com/dlorp/synapse-engine-sub002/domain/fleet"
	"github.com/dlorp/synapse-engine-sub002/domain/query"
)

// Config is the control plane's enumerated configuration, every field
// documented with the default a reader must fall back to when the field
// is absent. envdecode populates it from the environment (optionally
// seeded from a local .env file via godotenv); nothing here is
// runtime-tunable except the complexity scoring expression, which
// domain/complexity.ExpressionAssessor itself treats as the one
// admin-overridable calibrated constant.
type Config struct {
	Profile string `env:"SYNAPSE_PROFILE,default=default"`

	HTTPAddr  string `env:"SYNAPSE_HTTP_ADDR,default=:8080"`
	WSAddr    string `env:"SYNAPSE_WS_ADDR,default=:8081"`
	JWTSecret string `env:"SYNAPSE_ADMIN_JWT_SECRET"`

	StateDSN string `env:"SYNAPSE_STATE_DSN"`

	HealthCheckInterval  time.Duration `env:"SYNAPSE_HEALTH_CHECK_INTERVAL,default=1s"`
	FailureThreshold     int           `env:"SYNAPSE_FAILURE_THRESHOLD,default=3"`
	RecoverySuccessCount int           `env:"SYNAPSE_RECOVERY_SUCCESS_COUNT,default=2"`
	ReservationDeadline  time.Duration `env:"SYNAPSE_RESERVATION_DEADLINE,default=60s"`

	TierConcurrencyFAST     int `env:"SYNAPSE_TIER_CONCURRENCY_FAST,default=8"`
	TierConcurrencyBALANCED int `env:"SYNAPSE_TIER_CONCURRENCY_BALANCED,default=4"`
	TierConcurrencyPOWERFUL int `env:"SYNAPSE_TIER_CONCURRENCY_POWERFUL,default=2"`

	CacheShardSize int           `env:"SYNAPSE_CACHE_SHARD_SIZE,default=1024"`
	CacheTTL       time.Duration `env:"SYNAPSE_CACHE_TTL,default=30m"`

	CGRAGTokenBudget  int     `env:"SYNAPSE_CGRAG_TOKEN_BUDGET,default=2000"`
	CGRAGMinRelevance float64 `env:"SYNAPSE_CGRAG_MIN_RELEVANCE,default=0.7"`
	VectorDimension   int     `env:"SYNAPSE_VECTOR_DIMENSION,default=256"`
	VectorIndexPath   string  `env:"SYNAPSE_VECTOR_INDEX_PATH,default=./data/vectors.bin"`
	VectorSidecarPath string  `env:"SYNAPSE_VECTOR_SIDECAR_PATH,default=./data/vectors.sidecar.json"`
	EmbedderURL       string  `env:"SYNAPSE_EMBEDDER_URL"`

	EventBusQueueSize      int    `env:"SYNAPSE_EVENT_BUS_QUEUE_SIZE,default=256"`
	TelemetryCoalesceEvery string `env:"SYNAPSE_TELEMETRY_COALESCE_INTERVAL,default=2s"`

	ComplexityExpression string `env:"SYNAPSE_COMPLEXITY_EXPRESSION,default="`

	LogLevel  string `env:"SYNAPSE_LOG_LEVEL,default=info"`
	LogFormat string `env:"SYNAPSE_LOG_FORMAT,default=json"`
}

// LoadConfig loads a local .env file if present (silently ignored when
// absent — production deployments inject the environment directly), then
// decodes Config from the process environment. Every field above carries
// its own default via the env struct tag, so a missing .env or a sparse
// environment still produces a usable Config.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) fleetConfig() fleet.Config {
	return fleet.Config{
		HealthCheckInterval:  c.HealthCheckInterval,
		FailureThreshold:     c.FailureThreshold,
		RecoverySuccessCount: c.RecoverySuccessCount,
		ReservationDeadline:  c.ReservationDeadline,
	}
}

func (c Config) tierConcurrency() map[query.Tier]int {
	return map[query.Tier]int{
		query.TierFAST:     c.TierConcurrencyFAST,
		query.TierBALANCED: c.TierConcurrencyBALANCED,
		query.TierPOWERFUL: c.TierConcurrencyPOWERFUL,
	}
}

// totalWorkers sums the per-tier concurrency caps, giving cmd/synapsed's
// admission-control worker pool a default sized from the same
// configuration the Router enforces per-tier caps from.
func (c Config) totalWorkers() int {
	total := 0
	for _, n := range c.tierConcurrency() {
		total += n
	}
	if total <= 0 {
		total = 1
	}
	return total
}

func (c Config) admissionPolicy() coordinator.AdmissionPolicy {
	policy := coordinator.DefaultAdmissionPolicy()
	policy.CacheTTL = c.CacheTTL
	policy.DefaultTokens = c.CGRAGTokenBudget
	return policy
}

func (c Config) complexityExpression() string {
	expr := strings.TrimSpace(c.ComplexityExpression)
	if expr == "" {
		return complexity.DefaultExpression
	}
	return expr
}
