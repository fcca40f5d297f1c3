package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// TrustedProxies limits which peers may set X-Forwarded-For.
	TrustedProxies []string
	CORSMaxAge     time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
	ApplicationName string
	SlowQuery       time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	Group    string
	Consumer string
}

type StorageConfig struct {
	Endpoint        string
	AccessKey       string
	SecretKey       string
	BucketOriginals string
	BucketRestored  string
	UseSSL          bool
	Region          string
	SignedURLTTL    time.Duration
	MaxUploadBytes  int64
}

type SupabaseConfig struct {
	URL        string
	ServiceKey string
	JWTSecret  string
}

type PredictionConfig struct {
	BaseURL       string
	Token         string
	ModelVersion  string
	WebhookURL    string
	WebhookSecret string
	Timeout       time.Duration
}

type PaymentsConfig struct {
	StripeSecretKey     string
	StripeWebhookSecret string
	// Prices maps a price identifier to the credits it grants.
	Prices map[string]int
}

type JobsConfig struct {
	Timeout         time.Duration
	StalenessWindow time.Duration
	SweepSchedule   string
	RestorationCost int
	MinCancelAge    time.Duration
}

type QueueConfig struct {
	ClaimInterval time.Duration
	// MaxDeliveries bounds how often a failing task is retried before it is
	// moved to the dead-letter stream.
	MaxDeliveries int64
}

type DashboardConfig struct {
	PollInterval time.Duration
}

type FeaturesConfig struct {
	CreditsTestPanel bool
	StreakTestPanel  bool
}

type AnalyticsConfig struct {
	Driver  string
	Brokers []string
	Topic   string
}

type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

type LoggingConfig struct {
	Level string
	Debug bool
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Storage          StorageConfig
	Supabase         SupabaseConfig
	Prediction       PredictionConfig
	Payments         PaymentsConfig
	Jobs             JobsConfig
	Queues           QueueConfig
	Dashboard        DashboardConfig
	Features         FeaturesConfig
	Analytics        AnalyticsConfig
	RateLimit        RateLimitConfig
	Logging          LoggingConfig
	AllowCORSOrigins []string
}

func Load() (*AppConfig, error) {
	// .env is optional; real environment variables take precedence.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("PHOTORESTORE")
	v.AutomaticEnv()

	setDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the job lifecycle cannot run with.
func (c *AppConfig) Validate() error {
	if c.Jobs.RestorationCost <= 0 {
		return fmt.Errorf("jobs.restorationcost must be positive")
	}
	if c.Jobs.Timeout <= 0 || c.Jobs.StalenessWindow <= 0 {
		return fmt.Errorf("jobs.timeout and jobs.stalenesswindow must be positive")
	}
	if c.Dashboard.PollInterval <= 0 {
		return fmt.Errorf("dashboard.pollinterval must be positive")
	}
	for price, credits := range c.Payments.Prices {
		if credits <= 0 {
			return fmt.Errorf("payments.prices.%s must grant a positive credit amount", price)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "0s") // SSE streams stay open
	v.SetDefault("http.idletimeout", "60s")
	v.SetDefault("http.trustedproxies", []string{"127.0.0.1", "::1"})
	v.SetDefault("http.corsmaxage", "10m")

	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")
	v.SetDefault("postgres.applicationname", "photorestore")
	v.SetDefault("postgres.slowquery", "500ms")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "restoration:tasks")
	v.SetDefault("redis.group", "restoration-workers")
	v.SetDefault("redis.consumer", "worker-1")

	v.SetDefault("storage.bucketoriginals", "original-uploads")
	v.SetDefault("storage.bucketrestored", "restored-images")
	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.signedurlttl", "1h")
	v.SetDefault("storage.maxuploadbytes", 10<<20)

	v.SetDefault("prediction.baseurl", "https://api.replicate.com")
	v.SetDefault("prediction.timeout", "30s")

	v.SetDefault("payments.prices", map[string]int{})

	v.SetDefault("jobs.timeout", "10m")
	v.SetDefault("jobs.stalenesswindow", "15m")
	v.SetDefault("jobs.sweepschedule", "0 */1 * * * *")
	v.SetDefault("jobs.restorationcost", 1)
	v.SetDefault("jobs.mincancelage", "10s")

	v.SetDefault("queues.claiminterval", "10s")
	v.SetDefault("queues.maxdeliveries", 5)

	v.SetDefault("dashboard.pollinterval", "2s")

	v.SetDefault("features.creditstestpanel", false)
	v.SetDefault("features.streaktestpanel", false)

	v.SetDefault("analytics.driver", "none")
	v.SetDefault("analytics.topic", "restoration-events")

	v.SetDefault("ratelimit.requestsperminute", 30)
	v.SetDefault("ratelimit.burst", 5)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.debug", false)
}

// bindEnv maps the conventional unprefixed variable names used by the hosted
// platforms onto config keys.
func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("supabase.url", "PHOTORESTORE_SUPABASE_URL", "SUPABASE_URL")
	_ = v.BindEnv("supabase.servicekey", "PHOTORESTORE_SUPABASE_SERVICEKEY", "SUPABASE_SERVICE_ROLE_KEY")
	_ = v.BindEnv("supabase.jwtsecret", "PHOTORESTORE_SUPABASE_JWTSECRET", "SUPABASE_JWT_SECRET")
	_ = v.BindEnv("prediction.token", "PHOTORESTORE_PREDICTION_TOKEN", "REPLICATE_API_TOKEN")
	_ = v.BindEnv("prediction.webhooksecret", "PHOTORESTORE_PREDICTION_WEBHOOKSECRET", "REPLICATE_WEBHOOK_SECRET")
	_ = v.BindEnv("payments.stripesecretkey", "PHOTORESTORE_PAYMENTS_STRIPESECRETKEY", "STRIPE_SECRET_KEY")
	_ = v.BindEnv("payments.stripewebhooksecret", "PHOTORESTORE_PAYMENTS_STRIPEWEBHOOKSECRET", "STRIPE_WEBHOOK_SECRET")
	_ = v.BindEnv("postgres.dsn", "PHOTORESTORE_POSTGRES_DSN", "DATABASE_URL")
	_ = v.BindEnv("logging.debug", "PHOTORESTORE_LOGGING_DEBUG", "DEBUG_LOGGING")
	_ = v.BindEnv("dashboard.pollinterval", "PHOTORESTORE_DASHBOARD_POLLINTERVAL", "POLLING_INTERVAL")
}
