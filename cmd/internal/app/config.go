package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	authapi "workline/cmd/internal/auth/api"
	"workline/cmd/internal/realtime"
)

// ErrConfig is wrapped by every configuration validation failure.
var ErrConfig = errors.New("invalid app config")

// Config is the server runtime configuration. Every key is read from the environment (WORKLINE_*)
// with an optional .env file underneath.
type Config struct {
	HTTPAddr  string `mapstructure:"WORKLINE_HTTP_ADDR"`
	LogLevel  string `mapstructure:"WORKLINE_LOG_LEVEL"`
	LogFormat string `mapstructure:"WORKLINE_LOG_FORMAT"`

	ReadHeaderTimeout time.Duration `mapstructure:"WORKLINE_HTTP_READ_HEADER_TIMEOUT"`
	ReadTimeout       time.Duration `mapstructure:"WORKLINE_HTTP_READ_TIMEOUT"`
	WriteTimeout      time.Duration `mapstructure:"WORKLINE_HTTP_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `mapstructure:"WORKLINE_HTTP_IDLE_TIMEOUT"`
	ShutdownTimeout   time.Duration `mapstructure:"WORKLINE_HTTP_SHUTDOWN_TIMEOUT"`
	MaxHeaderBytes    int           `mapstructure:"WORKLINE_HTTP_MAX_HEADER_BYTES"`

	// DatabaseURL empty selects the in-memory stores.
	DatabaseURL string `mapstructure:"WORKLINE_DATABASE_URL"`
	DBSchema    string `mapstructure:"WORKLINE_DB_SCHEMA"`
	DBMaxConns  int32  `mapstructure:"WORKLINE_DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"WORKLINE_DB_MIN_CONNS"`
	// DBAutoMigrate applies pending migrations at startup.
	DBAutoMigrate bool `mapstructure:"WORKLINE_DB_AUTO_MIGRATE"`

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool `mapstructure:"WORKLINE_READINESS_REQUIRE_DB"`

	// RequireTokenHMAC refuses to start without a >= 32 byte WORKLINE_TOKEN_HMAC_KEY.
	RequireTokenHMAC bool `mapstructure:"WORKLINE_REQUIRE_TOKEN_HMAC"`

	RevocationPruneInterval time.Duration `mapstructure:"WORKLINE_REVOCATION_PRUNE_INTERVAL"`
	MetricsEnabled          bool          `mapstructure:"WORKLINE_METRICS_ENABLED"`

	CORSAllowedOrigins   []string `mapstructure:"WORKLINE_CORS_ALLOWED_ORIGINS"`
	CORSAllowCredentials bool     `mapstructure:"WORKLINE_CORS_ALLOW_CREDENTIALS"`
	CORSMaxAgeSeconds    int      `mapstructure:"WORKLINE_CORS_MAX_AGE_SECONDS"`

	WSOriginRequired    bool          `mapstructure:"WORKLINE_WS_ORIGIN_REQUIRED"`
	WSAllowedOrigins    []string      `mapstructure:"WORKLINE_WS_ALLOWED_ORIGINS"`
	WSDevInsecure       bool          `mapstructure:"WORKLINE_WS_DEV_INSECURE"`
	WSWriteTimeout      time.Duration `mapstructure:"WORKLINE_WS_WRITE_TIMEOUT"`
	WSSendQueue         int           `mapstructure:"WORKLINE_WS_SEND_QUEUE"`
	WSHeartbeatInterval time.Duration `mapstructure:"WORKLINE_WS_HEARTBEAT_INTERVAL"`
	WSHeartbeatTimeout  time.Duration `mapstructure:"WORKLINE_WS_HEARTBEAT_TIMEOUT"`
	WSConnectRateEvents int           `mapstructure:"WORKLINE_WS_CONNECT_RATE_EVENTS"`
	WSConnectRateWindow time.Duration `mapstructure:"WORKLINE_WS_CONNECT_RATE_WINDOW"`

	AuthTrustProxy      bool          `mapstructure:"WORKLINE_AUTH_TRUST_PROXY"`
	AuthMaxBodyBytes    int64         `mapstructure:"WORKLINE_AUTH_MAX_BODY_BYTES"`
	AuthLoginIPMax      int           `mapstructure:"WORKLINE_AUTH_LOGIN_IP_MAX"`
	AuthLoginIPWindow   time.Duration `mapstructure:"WORKLINE_AUTH_LOGIN_IP_WINDOW"`
	WelcomeNotification bool          `mapstructure:"WORKLINE_WELCOME_NOTIFICATION"`
}

func setDefaults(v *viper.Viper) {
	ws := realtime.DefaultGatewayConfig()
	auth := authapi.DefaultConfig()

	v.SetDefault("WORKLINE_HTTP_ADDR", "0.0.0.0:8080")
	v.SetDefault("WORKLINE_LOG_LEVEL", "info")
	v.SetDefault("WORKLINE_LOG_FORMAT", "json")

	v.SetDefault("WORKLINE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second)
	v.SetDefault("WORKLINE_HTTP_READ_TIMEOUT", 15*time.Second)
	v.SetDefault("WORKLINE_HTTP_WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("WORKLINE_HTTP_IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("WORKLINE_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second)
	v.SetDefault("WORKLINE_HTTP_MAX_HEADER_BYTES", 1<<20)

	v.SetDefault("WORKLINE_DATABASE_URL", "")
	v.SetDefault("WORKLINE_DB_SCHEMA", "workline")
	v.SetDefault("WORKLINE_DB_MAX_CONNS", 10)
	v.SetDefault("WORKLINE_DB_MIN_CONNS", 0)
	v.SetDefault("WORKLINE_DB_AUTO_MIGRATE", false)
	v.SetDefault("WORKLINE_READINESS_REQUIRE_DB", false)
	v.SetDefault("WORKLINE_REQUIRE_TOKEN_HMAC", false)

	v.SetDefault("WORKLINE_REVOCATION_PRUNE_INTERVAL", time.Hour)
	v.SetDefault("WORKLINE_METRICS_ENABLED", true)

	v.SetDefault("WORKLINE_CORS_ALLOWED_ORIGINS", []string{})
	v.SetDefault("WORKLINE_CORS_ALLOW_CREDENTIALS", false)
	v.SetDefault("WORKLINE_CORS_MAX_AGE_SECONDS", 600)

	v.SetDefault("WORKLINE_WS_ORIGIN_REQUIRED", ws.OriginRequired)
	v.SetDefault("WORKLINE_WS_ALLOWED_ORIGINS", ws.AllowedOrigins)
	v.SetDefault("WORKLINE_WS_DEV_INSECURE", false)
	v.SetDefault("WORKLINE_WS_WRITE_TIMEOUT", ws.WriteTimeout)
	v.SetDefault("WORKLINE_WS_SEND_QUEUE", ws.SendQueueSize)
	v.SetDefault("WORKLINE_WS_HEARTBEAT_INTERVAL", ws.HeartbeatEvery)
	v.SetDefault("WORKLINE_WS_HEARTBEAT_TIMEOUT", ws.HeartbeatTimeout)
	v.SetDefault("WORKLINE_WS_CONNECT_RATE_EVENTS", ws.ConnectRateEvents)
	v.SetDefault("WORKLINE_WS_CONNECT_RATE_WINDOW", ws.ConnectRateWindow)

	v.SetDefault("WORKLINE_AUTH_TRUST_PROXY", false)
	v.SetDefault("WORKLINE_AUTH_MAX_BODY_BYTES", auth.MaxBodyBytes)
	v.SetDefault("WORKLINE_AUTH_LOGIN_IP_MAX", auth.LoginIPMax)
	v.SetDefault("WORKLINE_AUTH_LOGIN_IP_WINDOW", auth.LoginIPWindow)
	v.SetDefault("WORKLINE_WELCOME_NOTIFICATION", true)
}

// LoadConfig reads ./.env (if present) and the environment.
func LoadConfig() (Config, error) {
	return LoadConfigFrom(".env")
}

// LoadConfigFrom is LoadConfig with an explicit .env path. A missing file is ignored; environment
// variables win over the file. File keys absent from the environment are exported so the
// session and password loaders, which read the environment directly, see them too.
func LoadConfigFrom(envFile string) (Config, error) {
	v := viper.New()

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err == nil {
			exportFileKeys(v)
		}
	}

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	cfg.CORSAllowedOrigins = cleanList(cfg.CORSAllowedOrigins)
	cfg.WSAllowedOrigins = cleanList(cfg.WSAllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func exportFileKeys(v *viper.Viper) {
	for _, k := range v.AllKeys() {
		key := strings.ToUpper(k)
		if !strings.HasPrefix(key, "WORKLINE_") {
			continue
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		_ = os.Setenv(key, v.GetString(k))
	}
}

func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.HTTPAddr) == "":
		return fmt.Errorf("%w: WORKLINE_HTTP_ADDR must be set", ErrConfig)
	case c.DBMinConns < 0, c.DBMaxConns < 0:
		return fmt.Errorf("%w: db connection limits must be >= 0", ErrConfig)
	case c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns:
		return fmt.Errorf("%w: WORKLINE_DB_MIN_CONNS exceeds WORKLINE_DB_MAX_CONNS", ErrConfig)
	case c.RevocationPruneInterval < 0:
		return fmt.Errorf("%w: WORKLINE_REVOCATION_PRUNE_INTERVAL must be >= 0", ErrConfig)
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "json", "text", "pretty":
	default:
		return fmt.Errorf("%w: WORKLINE_LOG_FORMAT must be json, text or pretty", ErrConfig)
	}
	return nil
}

func (c Config) gatewayConfig() realtime.GatewayConfig {
	return realtime.GatewayConfig{
		OriginRequired:    c.WSOriginRequired,
		AllowedOrigins:    c.WSAllowedOrigins,
		DevInsecure:       c.WSDevInsecure,
		WriteTimeout:      c.WSWriteTimeout,
		SendQueueSize:     c.WSSendQueue,
		HeartbeatEvery:    c.WSHeartbeatInterval,
		HeartbeatTimeout:  c.WSHeartbeatTimeout,
		ConnectRateEvents: c.WSConnectRateEvents,
		ConnectRateWindow: c.WSConnectRateWindow,
	}
}

func (c Config) authConfig() authapi.Config {
	out := authapi.DefaultConfig()
	out.TrustProxy = c.AuthTrustProxy
	out.MaxBodyBytes = c.AuthMaxBodyBytes
	out.LoginIPMax = c.AuthLoginIPMax
	out.LoginIPWindow = c.AuthLoginIPWindow
	if !c.WelcomeNotification {
		out.WelcomeTitle = ""
	}
	return out
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
