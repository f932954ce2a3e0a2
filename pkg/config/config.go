package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type DB struct {
	DSN           string `env:"DSN,required,notEmpty"`
	RunMigrations bool   `env:"RUN_MIGRATIONS" envDefault:"false"`
	MaxOpenConns  int    `env:"MAX_OPEN_CONNS" envDefault:"20"`
}

type RMQ struct {
	URL      string `env:"URL,required,notEmpty"`
	Queue    string `env:"QUEUE" envDefault:"dispatch_jobs"`
	Prefetch int    `env:"PREFETCH" envDefault:"10"`
}

type Gateway struct {
	BaseURL       string        `env:"BASE_URL" envDefault:"https://graph.facebook.com"`
	APIVersion    string        `env:"API_VERSION" envDefault:"v18.0"`
	PhoneNumberID string        `env:"PHONE_NUMBER_ID"`
	AccessToken   string        `env:"ACCESS_TOKEN"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"10s"`
	RatePerSecond float64       `env:"RATE_PER_SECOND" envDefault:"20"`
	Burst         int           `env:"BURST" envDefault:"5"`
}

type Dispatch struct {
	Workers    int           `env:"WORKERS" envDefault:"4"`
	MaxRetries int           `env:"MAX_RETRIES" envDefault:"3"`
	BaseDelay  time.Duration `env:"BASE_DELAY" envDefault:"2s"`
	MaxDelay   time.Duration `env:"MAX_DELAY" envDefault:"1m"`
}

type Scheduler struct {
	Enabled         bool          `env:"ENABLED" envDefault:"false"`
	Spec            string        `env:"SPEC" envDefault:"@every 1m"`
	DefaultLanguage string        `env:"DEFAULT_LANGUAGE" envDefault:"en"`
	StaleAfter      time.Duration `env:"STALE_AFTER" envDefault:"15m"`
}

type Webhook struct {
	AppSecret   string `env:"APP_SECRET"`
	VerifyToken string `env:"VERIFY_TOKEN"`
}

type OTP struct {
	Production     bool          `env:"PRODUCTION" envDefault:"false"`
	CodeTTL        time.Duration `env:"CODE_TTL" envDefault:"10m"`
	MaxAttempts    int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	TokenSecret    string        `env:"TOKEN_SECRET" envDefault:"change-me"`
	TokenTTL       time.Duration `env:"TOKEN_TTL" envDefault:"720h"`
	RequireSession bool          `env:"REQUIRE_SESSION" envDefault:"false"`
	MessageTitle   string        `env:"MESSAGE_TITLE" envDefault:"Your verification code"`
}

type APIConfig struct {
	Port      string    `env:"PORT" envDefault:"8080"`
	DB        DB        `envPrefix:"DB_"`
	RMQ       RMQ       `envPrefix:"RMQ_"`
	Gateway   Gateway   `envPrefix:"GATEWAY_"`
	Webhook   Webhook   `envPrefix:"WEBHOOK_"`
	OTP       OTP       `envPrefix:"OTP_"`
	Scheduler Scheduler `envPrefix:"SCHEDULER_"`
}

type WorkerConfig struct {
	MetricsPort string   `env:"METRICS_PORT" envDefault:"9101"`
	DB          DB       `envPrefix:"DB_"`
	RMQ         RMQ      `envPrefix:"RMQ_"`
	Gateway     Gateway  `envPrefix:"GATEWAY_"`
	Dispatch    Dispatch `envPrefix:"DISPATCH_"`
}

type SchedulerConfig struct {
	MetricsPort string    `env:"METRICS_PORT" envDefault:"9102"`
	DB          DB        `envPrefix:"DB_"`
	RMQ         RMQ       `envPrefix:"RMQ_"`
	Scheduler   Scheduler `envPrefix:"SCHEDULER_"`
}

var (
	API       APIConfig
	Worker    WorkerConfig
	Scheduled SchedulerConfig
)

func load(dst any) {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on OS environment")
	}
	if err := env.Parse(dst); err != nil {
		log.Fatalf("config: %v", err)
	}
}

func MustLoadAPI() { load(&API) }

func MustLoadWorker() { load(&Worker) }

func MustLoadScheduler() {
	load(&Scheduled)
	Scheduled.Scheduler.Enabled = true
}
