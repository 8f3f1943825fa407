package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	kafkawrapper "github.com/joripage/venue-oms/pkg/kafka_wrapper"
	postgres_wrapper "github.com/joripage/venue-oms/pkg/infra/postgres"
	redis_wrapper "github.com/joripage/venue-oms/pkg/infra/redis"
	"github.com/joripage/venue-oms/pkg/marketdata"
	"github.com/joripage/venue-oms/pkg/oms"
	"github.com/joripage/venue-oms/pkg/oms/model"
	"github.com/joripage/venue-oms/pkg/router"
	"github.com/joripage/venue-oms/pkg/stream"
	"github.com/joripage/venue-oms/pkg/venue"
	"github.com/joripage/venue-oms/pkg/venue/fix"
	"github.com/joripage/venue-oms/pkg/venue/mock"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	VenueTypeMock = "mock"
	VenueTypeFIX  = "fix"
)

type HTTPConfig struct {
	Addr      string `yaml:"addr"`
	PprofAddr string `yaml:"pprof_addr"`
	// WriteTimeout bounds one websocket write.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type VenueConfig struct {
	ID          string      `yaml:"id"`
	Type        string      `yaml:"type"`
	Priority    int         `yaml:"priority"`
	Instruments []string    `yaml:"instruments"`
	Mock        mock.Config `yaml:"mock"`
	FIX         fix.Config  `yaml:"fix"`
}

type RiskConfig struct {
	Default  model.RiskProfile   `yaml:"default"`
	Accounts []model.RiskProfile `yaml:"accounts"`
	Halted   []string            `yaml:"halted"`
}

type KafkaConfig struct {
	Producer kafkawrapper.ProducerConfig `yaml:"producer"`
	Sink     kafkawrapper.SinkConfig     `yaml:"sink"`
	Consumer kafkawrapper.ConsumerConfig `yaml:"consumer"`
}

type AppConfig struct {
	ServiceName string                `yaml:"service_name"`
	LogLevel    string                `yaml:"log_level"`
	HTTP        HTTPConfig            `yaml:"http"`
	OMS         oms.Config            `yaml:"oms"`
	Router      router.Config         `yaml:"router"`
	MarketData  marketdata.Config     `yaml:"market_data"`
	Stream      stream.Config         `yaml:"stream"`
	Reconnect   venue.ReconnectConfig `yaml:"reconnect"`
	Risk        RiskConfig            `yaml:"risk"`
	Venues      []VenueConfig         `yaml:"venues"`

	// optional outer services; nil disables them
	Kafka *KafkaConfig                     `yaml:"kafka"`
	Redis *redis_wrapper.RedisConfig       `yaml:"redis"`
	OmsDB *postgres_wrapper.PostgresConfig `yaml:"oms_db"`
}

// ApplyDefaults fills every unset threshold.
func (c *AppConfig) ApplyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "venue-oms"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.WriteTimeout <= 0 {
		c.HTTP.WriteTimeout = 5 * time.Second
	}
	c.OMS.ApplyDefaults()
	c.MarketData.ApplyDefaults()
	c.Stream.ApplyDefaults()
	for i := range c.Venues {
		v := &c.Venues[i]
		if v.Type == "" {
			v.Type = VenueTypeMock
		}
		v.Mock.ID = v.ID
		v.FIX.ID = v.ID
	}
}

func (c *AppConfig) Validate() error {
	if len(c.Venues) == 0 {
		return errors.New("no venues configured")
	}
	seen := make(map[string]bool, len(c.Venues))
	for _, v := range c.Venues {
		if v.ID == "" {
			return errors.New("venue without id")
		}
		if seen[v.ID] {
			return fmt.Errorf("venue %s configured twice", v.ID)
		}
		seen[v.ID] = true
		switch v.Type {
		case VenueTypeMock:
		case VenueTypeFIX:
			if v.FIX.SettingsFile == "" {
				return fmt.Errorf("venue %s: fix.settings_file is required", v.ID)
			}
		default:
			return fmt.Errorf("venue %s: unknown type %q", v.ID, v.Type)
		}
	}
	if c.Router.DefaultVenue != "" && !seen[c.Router.DefaultVenue] {
		return fmt.Errorf("router.default_venue %s is not a configured venue", c.Router.DefaultVenue)
	}
	return nil
}

// Load load config from file and environment variables.
func Load(filePath string) (*AppConfig, error) {
	if len(filePath) == 0 {
		filePath = os.Getenv("CONFIG_FILE")
	}

	sugar := zap.S().With("func", "config.Load", "filePath", filePath)
	sugar.Debug("Load config...")

	configBytes, err := os.ReadFile(filePath)
	if err != nil {
		sugar.Error("Failed to load config file")
		return nil, err
	}
	configBytes = []byte(os.ExpandEnv(string(configBytes)))

	cfg := &AppConfig{}
	if err := yaml.Unmarshal(configBytes, cfg); err != nil {
		sugar.Error("Failed to parse config file")
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	zap.S().Debugf("config: %+v", cfg)
	return cfg, nil
}
