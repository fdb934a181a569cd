package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/heetch/confita"
	"github.com/heetch/confita/backend"
	"github.com/heetch/confita/backend/env"
	"github.com/heetch/confita/backend/file"
)

const (
	DeliveryModeSocial = "social"
	DeliveryModeSNS    = "sns"

	// ConfigFileEnv points to an optional json/yaml/toml file loaded before the environment.
	ConfigFileEnv = "BRIDGE_CONFIG_FILE"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Connect holds the Amazon Connect chat parameters.
type Connect struct {
	InstanceId          string `config:"INSTANCE_ID,required" json:"INSTANCE_ID" yaml:"INSTANCE_ID" toml:"INSTANCE_ID"`
	ContactFlowId       string `config:"CONTACT_FLOW_ID,required" json:"CONTACT_FLOW_ID" yaml:"CONTACT_FLOW_ID" toml:"CONTACT_FLOW_ID"`
	ChatDurationMinutes int    `config:"CHAT_DURATION_MINUTES" json:"CHAT_DURATION_MINUTES" yaml:"CHAT_DURATION_MINUTES" toml:"CHAT_DURATION_MINUTES"`
	TopicArn            string `config:"TOPIC_ARN" json:"TOPIC_ARN" yaml:"TOPIC_ARN" toml:"TOPIC_ARN"`
}

type Directory struct { // DynamoDB connections table
	TableName         string `config:"TABLE_NAME,required" json:"TABLE_NAME" yaml:"TABLE_NAME" toml:"TABLE_NAME"`
	CustomerIndexName string `config:"CUSTOMER_INDEX_NAME" json:"CUSTOMER_INDEX_NAME" yaml:"CUSTOMER_INDEX_NAME" toml:"CUSTOMER_INDEX_NAME"`
}

type Whatsapp struct {
	DeliveryMode   string `config:"DELIVERY_MODE" json:"DELIVERY_MODE" yaml:"DELIVERY_MODE" toml:"DELIVERY_MODE"`
	MetaApiVersion string `config:"META_API_VERSION" json:"META_API_VERSION" yaml:"META_API_VERSION" toml:"META_API_VERSION"`
}

// Config is read from the environment and, optionally, a file. The sections
// are embedded so a file uses the same flat keys as the environment.
type Config struct {
	Connect   `yaml:",inline"`
	Directory `yaml:",inline"`
	Whatsapp  `yaml:",inline"`

	ReconnectOnAccessDenied bool   `config:"RECONNECT_ON_ACCESS_DENIED" json:"RECONNECT_ON_ACCESS_DENIED" yaml:"RECONNECT_ON_ACCESS_DENIED" toml:"RECONNECT_ON_ACCESS_DENIED"`
	StopOrphanedContacts    bool   `config:"STOP_ORPHANED_CONTACTS" json:"STOP_ORPHANED_CONTACTS" yaml:"STOP_ORPHANED_CONTACTS" toml:"STOP_ORPHANED_CONTACTS"`
	LogLevel                string `config:"LOG_LEVEL" json:"LOG_LEVEL" yaml:"LOG_LEVEL" toml:"LOG_LEVEL"`
}

// Default returns the configuration used for every key the environment leaves unset.
func Default() Config {
	return Config{
		Connect: Connect{
			ChatDurationMinutes: 60,
		},
		Directory: Directory{
			CustomerIndexName: "customerId-index",
		},
		Whatsapp: Whatsapp{
			DeliveryMode:   DeliveryModeSocial,
			MetaApiVersion: "v21.0",
		},
		ReconnectOnAccessDenied: true,
		StopOrphanedContacts:    true,
		LogLevel:                "info",
	}
}

// Load reads the configuration from the optional config file and the process environment.
func Load(ctx context.Context) (*Config, error) {
	var backends []backend.Backend
	if path := os.Getenv(ConfigFileEnv); path != "" {
		backends = append(backends, file.NewBackend(path))
	}
	backends = append(backends, env.NewBackend())
	return LoadFrom(ctx, backends...)
}

func LoadFrom(ctx context.Context, backends ...backend.Backend) (*Config, error) {
	cfg := Default()
	loader := confita.NewLoader(backends...)
	if err := loader.Load(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Connect.InstanceId == "" {
		return fmt.Errorf("%w: INSTANCE_ID is empty", ErrInvalidConfig)
	}
	if c.Connect.ContactFlowId == "" {
		return fmt.Errorf("%w: CONTACT_FLOW_ID is empty", ErrInvalidConfig)
	}
	if c.Directory.TableName == "" {
		return fmt.Errorf("%w: TABLE_NAME is empty", ErrInvalidConfig)
	}
	if c.Connect.ChatDurationMinutes <= 0 {
		return fmt.Errorf("%w: CHAT_DURATION_MINUTES must be positive, got %d", ErrInvalidConfig, c.Connect.ChatDurationMinutes)
	}
	switch c.Whatsapp.DeliveryMode {
	case DeliveryModeSocial, DeliveryModeSNS:
	default:
		return fmt.Errorf("%w: unknown DELIVERY_MODE %q", ErrInvalidConfig, c.Whatsapp.DeliveryMode)
	}
	if c.Connect.TopicArn != "" && !arn.IsARN(c.Connect.TopicArn) {
		return fmt.Errorf("%w: TOPIC_ARN %q is not an ARN", ErrInvalidConfig, c.Connect.TopicArn)
	}

	// Connect accepts the bare instance id, the console often hands out the ARN
	if arn.IsARN(c.Connect.InstanceId) {
		instanceArn, err := arn.Parse(c.Connect.InstanceId)
		if err != nil {
			return fmt.Errorf("%w: INSTANCE_ID: %v", ErrInvalidConfig, err)
		}
		c.Connect.InstanceId = strings.TrimPrefix(instanceArn.Resource, "instance/")
	}
	return nil
}

func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
