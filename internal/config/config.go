package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the brokerage integration.
type Config struct {
	Server     Server     `yaml:"server"`
	Broker     Broker     `yaml:"broker"`
	Session    Session    `yaml:"session"`
	Stream     Stream     `yaml:"stream"`
	Validation Validation `yaml:"validation"`
	Risk       Risk       `yaml:"risk"`
	Events     Events     `yaml:"events"`
	Cache      Cache      `yaml:"cache"`
	Storage    Storage    `yaml:"storage"`
	Logging    Logging    `yaml:"logging"`
}

// Server configures the local REST API listener.
type Server struct {
	Addr string `yaml:"addr"`
}

// Broker holds credentials and endpoints for the brokerage REST and
// streaming APIs.
type Broker struct {
	APIURL    string `yaml:"api_url"`
	StreamURL string `yaml:"stream_url"`
	APIKey    string `yaml:"api_key"`  // brokerage-assigned API key header value
	APICode   string `yaml:"api_code"` // base64 symmetric key for credential encryption
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	// RequestsPerMinute paces outbound REST calls. The brokerage throttles
	// aggressively, so the default stays well under its published limit.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// Session controls the authenticated session lifecycle.
type Session struct {
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	HeartbeatMaxRetries int           `yaml:"heartbeat_max_retries"`
	RefreshBuffer       time.Duration `yaml:"refresh_buffer"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	ReadTimeout         time.Duration `yaml:"read_timeout"`
}

// Stream controls the persistent streaming connection.
type Stream struct {
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	AuthTimeout          time.Duration `yaml:"auth_timeout"`
}

// Validation defines pre-submission order limits.
type Validation struct {
	MaxQuantity   int64   `yaml:"max_quantity"`
	MinPrice      float64 `yaml:"min_price"`
	MaxPrice      float64 `yaml:"max_price"`
	MinOrderValue float64 `yaml:"min_order_value"`
	MaxOrderValue float64 `yaml:"max_order_value"`
}

// Risk defines pre-trade exposure caps applied before submission.
type Risk struct {
	MaxOrderNotional float64 `yaml:"max_order_notional"`
	MaxUserExposure  float64 `yaml:"max_user_exposure"`
}

// Events configures the Kafka order/portfolio event topics.
type Events struct {
	Brokers        []string `yaml:"brokers"`
	OrderTopic     string   `yaml:"order_topic"`
	PortfolioTopic string   `yaml:"portfolio_topic"`
}

// Cache configures the Redis latest-tick cache.
type Cache struct {
	RedisAddr string        `yaml:"redis_addr"`
	TickTTL   time.Duration `yaml:"tick_ttl"`
}

// Storage holds paths for local persistence.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns a Config with every recognized option set to its
// documented default. A missing file or a missing key falls back to these
// values, never to an error.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr: ":8080",
		},
		Broker: Broker{
			APIURL:            "https://api.algolab.com.tr",
			StreamURL:         "wss://api.algolab.com.tr/ws",
			RequestsPerMinute: 12,
		},
		Session: Session{
			HeartbeatInterval:   30 * time.Second,
			HeartbeatMaxRetries: 3,
			RefreshBuffer:       5 * time.Minute,
			ConnectTimeout:      10 * time.Second,
			ReadTimeout:         30 * time.Second,
		},
		Stream: Stream{
			MaxReconnectAttempts: 5,
			ReconnectBaseDelay:   5 * time.Second,
			PingInterval:         30 * time.Second,
			AuthTimeout:          10 * time.Second,
		},
		Validation: Validation{
			MaxQuantity:   10000,
			MinPrice:      0.01,
			MaxPrice:      10000.0,
			MinOrderValue: 100.0,
			MaxOrderValue: 1000000.0,
		},
		Risk: Risk{
			MaxOrderNotional: 1000000.0,
			MaxUserExposure:  5000000.0,
		},
		Events: Events{
			Brokers:        []string{"localhost:9092"},
			OrderTopic:     "order-events",
			PortfolioTopic: "portfolio-events",
		},
		Cache: Cache{
			RedisAddr: "localhost:6379",
			TickTTL:   5 * time.Minute,
		},
		Storage: Storage{
			SQLitePath: "bistbroker.db",
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML configuration file at the given path on top of the
// defaults and then applies environment variable overrides. A missing file
// is not an error: the defaults plus env overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set. Credentials are
// usually injected this way rather than committed in YAML.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("BROKER_API_URL"); v != "" {
		cfg.Broker.APIURL = v
	}
	if v := os.Getenv("BROKER_STREAM_URL"); v != "" {
		cfg.Broker.StreamURL = v
	}
	if v := os.Getenv("BROKER_API_KEY"); v != "" {
		cfg.Broker.APIKey = v
	}
	if v := os.Getenv("BROKER_API_CODE"); v != "" {
		cfg.Broker.APICode = v
	}
	if v := os.Getenv("BROKER_USERNAME"); v != "" {
		cfg.Broker.Username = v
	}
	if v := os.Getenv("BROKER_PASSWORD"); v != "" {
		cfg.Broker.Password = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Events.Brokers = []string{v}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
