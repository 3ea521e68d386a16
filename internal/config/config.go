// Package config loads the server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	x402 "github.com/Rampop01/streamit"
	"github.com/Rampop01/streamit/stacks"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
)

const (
	envVarPrefix = "paystream"

	RouterGateway = "gateway"
	RouterGin     = "gin"

	usageListFormat = `The server is configured via environment vars only. The following environment variables can be used:
{{range .}}
{{usage_key .}}
  description: {{usage_description .}}
  type:        {{usage_type .}}
  default:     {{usage_default .}}
{{end}}
`
)

// ServerConfig is the process configuration derived from environment variables.
type ServerConfig struct {
	Port     int    `default:"3000" desc:"HTTP listen port"`
	GrpcPort int    `split_words:"true" default:"9090" desc:"gRPC listen port, 0 disables the gRPC server"`
	Router   string `default:"gateway" desc:"HTTP router: gateway or gin"`

	Network        string `default:"testnet" desc:"Stacks network: testnet or mainnet"`
	IndexerURL     string `envconfig:"indexer_url" desc:"Stacks indexer base URL, defaults to the Hiro API for the network"`
	FacilitatorURL string `envconfig:"facilitator_url" desc:"Facilitator advertised in payment challenges"`

	DataFile     string `split_words:"true" default:"data/content.json" desc:"JSON catalog used when no database is configured"`
	DatabaseURL  string `envconfig:"database_url" desc:"Postgres DSN for content and the payment ledger"`
	RedisURL     string `envconfig:"redis_url" desc:"Redis URL for the shared verification cache"`
	AMQPURL      string `envconfig:"amqp_url" desc:"RabbitMQ URL for payment events"`
	AMQPExchange string `envconfig:"amqp_exchange" default:"paystream.payments" desc:"Exchange payment events are published to"`

	ReceiptSecret string        `split_words:"true" desc:"HMAC key for payment receipts, random per process when unset"`
	ReceiptTTL    time.Duration `envconfig:"receipt_ttl" default:"24h" desc:"Lifetime of a payment receipt"`

	IndexerTimeout    time.Duration `split_words:"true" default:"10s" desc:"Timeout for one verification lookup"`
	IndexerMaxRetries int           `split_words:"true" default:"1" desc:"Retries after a failed indexer request"`

	RejectPending   bool `split_words:"true" desc:"Answer 403 for unconfirmed transactions"`
	AllowMismatch   bool `split_words:"true" desc:"Unlock content for mismatched payments"`
	SkipAmountCheck bool `split_words:"true" desc:"Accept any transferred amount"`
	DemoMode        bool `split_words:"true" desc:"Shorthand for ALLOW_MISMATCH"`

	RecheckSchedule string   `split_words:"true" default:"@every 1m" desc:"Cron schedule for re-verifying pending payments, empty disables"`
	AllowedOrigins  []string `split_words:"true" default:"*" desc:"CORS origins, comma separated"`
	LogLevel        string   `split_words:"true" default:"info" desc:"debug, info, warn or error"`
}

// Load reads envFile (when present) into the environment, then populates
// and validates a ServerConfig.
func Load(envFile string) (*ServerConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	c := &ServerConfig{}
	if err := c.PopulateFromEnv(); err != nil {
		return nil, err
	}
	return c, nil
}

// PopulateFromEnv processes the environment vars and validates the values.
func (c *ServerConfig) PopulateFromEnv() error {
	if err := envconfig.Process(envVarPrefix, c); err != nil {
		return err
	}
	return c.Validate()
}

// OutputUsage prints the usage string to w.
func (c *ServerConfig) OutputUsage(w io.Writer) {
	tabs := tabwriter.NewWriter(w, 1, 0, 4, ' ', 0)
	_ = envconfig.Usagef(envVarPrefix, c, tabs, usageListFormat)
	_ = tabs.Flush()
}

// Validate rejects unknown networks, routers, schedules and log levels.
func (c *ServerConfig) Validate() error {
	if _, err := x402.ParseNetwork(c.Network); err != nil {
		return fmt.Errorf("invalid network: '%v'", c.Network)
	}

	c.Router = strings.ToLower(c.Router)
	if c.Router != RouterGateway && c.Router != RouterGin {
		return fmt.Errorf("invalid router: '%v'", c.Router)
	}

	if c.RecheckSchedule != "" {
		if _, err := cron.ParseStandard(c.RecheckSchedule); err != nil {
			return fmt.Errorf("invalid recheck schedule: '%v'", c.RecheckSchedule)
		}
	}

	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.GrpcPort < 0 || c.GrpcPort > 65535 {
		return fmt.Errorf("invalid grpc port: %d", c.GrpcPort)
	}
	return nil
}

// Policy returns the verification policy. DemoMode implies AllowMismatch.
func (c *ServerConfig) Policy() x402.VerifyPolicy {
	return x402.VerifyPolicy{
		RejectPending:   c.RejectPending,
		AllowMismatch:   c.AllowMismatch || c.DemoMode,
		SkipAmountCheck: c.SkipAmountCheck,
	}
}

// Indexer returns the configured indexer URL or the network default.
func (c *ServerConfig) Indexer() string {
	if c.IndexerURL != "" {
		return c.IndexerURL
	}
	return stacks.BaseURLForNetwork(c.Network)
}

// SlogLevel parses LogLevel.
func (c *ServerConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level: '%v'", c.LogLevel)
	}
	return level, nil
}
