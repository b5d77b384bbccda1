package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type Redis struct {
	Addr         string // e.g. redis:6379
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type NSQ struct {
	NsqdTCPAddr    string // e.g. nsqd:4150
	LookupHTTPAddr string // e.g. http://nsqlookupd:4161
	RetriesTopic   string // NSQ topic for retry redispatch tasks
	DLQTopic       string // Dead letter topic for exhausted entries
	WorkerChannel  string // NSQ channel name for workers
	PublishDLQ     bool   // Whether to publish exhausted entries to the DLQ topic
}

type Signature struct {
	Secret           string // shared secret for inbound HMAC verification
	ToleranceSeconds int    // allowed timestamp skew in seconds
	SignatureHeader  string // HTTP header carrying sha256=<hex>
	TimestampHeader  string // HTTP header carrying unix seconds
}

type RateLimit struct {
	Window      time.Duration // counter window size
	MaxRequests int           // max admitted requests per key per window
	KeyHeader   string        // optional header used as the client key (falls back to source IP)
}

type Retry struct {
	MaxRetries    int           // retry budget per ledger entry
	InitialDelay  time.Duration // first backoff delay
	Multiplier    float64       // exponential growth factor
	MaxDelay      time.Duration // backoff cap
	Jitter        bool          // draw delay uniformly from [delay/2, delay]
	SweepInterval time.Duration // how often the sweeper looks for due entries
	SweepBatch    int           // max entries published per sweep
}

type Ledger struct {
	Retention     time.Duration // terminal entries older than this are purged
	PurgeInterval time.Duration // how often the purge pass runs
}

type Admin struct {
	JWTPublicKeyPEM string // RS256 public key for admin API tokens
	JWTIssuer       string
	JWTAudience     string
}

type Config struct {
	AppName        string
	HTTPPort       string // :8080 (receiver)
	WorkerHTTPPort string // :8082 (worker health/metrics)
	DB             DB
	Redis          Redis
	NSQ            NSQ
	Signature      Signature
	RateLimit      RateLimit
	Retry          Retry
	Ledger         Ledger
	Admin          Admin
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func FromEnv() Config {
	return Config{
		AppName:        getenv("APP_NAME", "mooring"),
		HTTPPort:       getenv("HTTP_PORT", ":8080"),
		WorkerHTTPPort: getenv("WORKER_HTTP_PORT", ":8082"),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "mooring"),
		},
		Redis: Redis{
			Addr:         getenv("REDIS_ADDR", "redis:6379"),
			DialTimeout:  getenvDuration("REDIS_DIAL_TIMEOUT", 3*time.Second),
			ReadTimeout:  getenvDuration("REDIS_READ_TIMEOUT", 500*time.Millisecond),
			WriteTimeout: getenvDuration("REDIS_WRITE_TIMEOUT", 500*time.Millisecond),
		},
		NSQ: NSQ{
			NsqdTCPAddr:    getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			LookupHTTPAddr: getenv("NSQ_LOOKUP_HTTP_ADDR", "http://nsqlookupd:4161"),
			RetriesTopic:   getenv("NSQ_RETRIES_TOPIC", "retries"),
			DLQTopic:       getenv("NSQ_DLQ_TOPIC", "retries_dlq"),
			WorkerChannel:  getenv("NSQ_WORKER_CHANNEL", "workers"),
			PublishDLQ:     getenvBool("PUBLISH_DLQ_TOPIC", false),
		},
		Signature: Signature{
			Secret:           getenv("WEBHOOK_SECRET", ""),
			ToleranceSeconds: getenvInt("SIGNATURE_TOLERANCE_SECONDS", 300),
			SignatureHeader:  getenv("WEBHOOK_SIGNATURE_HEADER", "X-Mooring-Signature"),
			TimestampHeader:  getenv("WEBHOOK_TIMESTAMP_HEADER", "X-Mooring-Timestamp"),
		},
		RateLimit: RateLimit{
			Window:      getenvDuration("RATE_LIMIT_WINDOW", 10*time.Second),
			MaxRequests: getenvInt("RATE_LIMIT_MAX_REQUESTS", 100),
			KeyHeader:   getenv("RATE_LIMIT_KEY_HEADER", "X-Api-Key"),
		},
		Retry: Retry{
			MaxRetries:    getenvInt("MAX_RETRIES", 5),
			InitialDelay:  getenvDuration("RETRY_INITIAL_DELAY", time.Second),
			Multiplier:    getenvFloat("RETRY_MULTIPLIER", 2.0),
			MaxDelay:      getenvDuration("RETRY_MAX_DELAY", time.Minute),
			Jitter:        getenvBool("RETRY_JITTER", true),
			SweepInterval: getenvDuration("RETRY_SWEEP_INTERVAL", 5*time.Second),
			SweepBatch:    getenvInt("RETRY_SWEEP_BATCH", 100),
		},
		Ledger: Ledger{
			Retention:     getenvDuration("LEDGER_RETENTION", 30*24*time.Hour),
			PurgeInterval: getenvDuration("LEDGER_PURGE_INTERVAL", time.Hour),
		},
		Admin: Admin{
			JWTPublicKeyPEM: getenv("ADMIN_JWT_PUBLIC_KEY", ""),
			JWTIssuer:       getenv("ADMIN_JWT_ISSUER", "mooring"),
			JWTAudience:     getenv("ADMIN_JWT_AUDIENCE", "mooring-admin"),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
