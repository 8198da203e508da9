package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Server      ServerConfig
	Marketplace MarketplaceConfig
	Keeper      KeeperConfig
	JWT         JWTConfig
	Log         LogConfig
	Events      EventsConfig
}

type ServerConfig struct {
	Port string `validate:"required,numeric"`
}

type MarketplaceConfig struct {
	// Operator holds escrowed auction assets and is the approved spender
	// sellers grant before listing.
	Operator        string `validate:"required,eth_addr"`
	PlatformAccount string `validate:"required,eth_addr"`
	PlatformFeeBps  int64  `validate:"gte=0,lte=10000"`
	Store           string `validate:"required,oneof=memory postgres"`
	// EscrowAccount receives charged funds until they are paid out.
	EscrowAccount  string `validate:"required"`
	FactoryAddress string `validate:"required,eth_addr"`
}

type KeeperConfig struct {
	Interval  time.Duration `validate:"gte=0"`
	BatchSize int           `validate:"gt=0"`
}

type JWTConfig struct {
	SecretKey string `validate:"required,min=16"`
}

type LogConfig struct {
	Path  string
	Debug bool
}

type EventsConfig struct {
	Queue string `validate:"required"`
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("marketplace.platform_fee_bps", 250)
	viper.SetDefault("marketplace.store", StoreMemory)
	viper.SetDefault("marketplace.escrow_account", "escrow")
	viper.SetDefault("marketplace.factory_address", "0x5FbDB2315678afecb367f032d93F642f64180aa3")
	viper.SetDefault("keeper.interval", time.Minute)
	viper.SetDefault("keeper.batch_size", 100)
	viper.SetDefault("log.path", "logs/marketd.log")
	viper.SetDefault("log.debug", false)
	viper.SetDefault("events.queue", "marketplace_events")
}

func bindEnv() {
	viper.BindEnv("server.port", "PORT")

	viper.BindEnv("marketplace.operator", "MARKETPLACE_OPERATOR")
	viper.BindEnv("marketplace.platform_account", "MARKETPLACE_PLATFORM_ACCOUNT")
	viper.BindEnv("marketplace.platform_fee_bps", "MARKETPLACE_PLATFORM_FEE_BPS")
	viper.BindEnv("marketplace.store", "MARKETPLACE_STORE")
	viper.BindEnv("marketplace.escrow_account", "MARKETPLACE_ESCROW_ACCOUNT")
	viper.BindEnv("marketplace.factory_address", "MARKETPLACE_FACTORY_ADDRESS")

	viper.BindEnv("keeper.interval", "KEEPER_INTERVAL")
	viper.BindEnv("keeper.batch_size", "KEEPER_BATCH_SIZE")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("log.path", "LOG_PATH")
	viper.BindEnv("log.debug", "LOG_DEBUG")
	viper.BindEnv("events.queue", "EVENTS_QUEUE")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
}

// Load reads the optional config file plus the environment into viper and
// returns the validated marketplace configuration. A missing file is not an
// error.
func Load(file string) (*Config, bool, error) {
	setDefaults()
	bindEnv()

	fileRead := false
	if file != "" {
		viper.SetConfigFile(file)
		if err := viper.ReadInConfig(); err == nil {
			fileRead = true
		}
	}
	viper.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
		},
		Marketplace: MarketplaceConfig{
			Operator:        viper.GetString("marketplace.operator"),
			PlatformAccount: viper.GetString("marketplace.platform_account"),
			PlatformFeeBps:  viper.GetInt64("marketplace.platform_fee_bps"),
			Store:           viper.GetString("marketplace.store"),
			EscrowAccount:   viper.GetString("marketplace.escrow_account"),
			FactoryAddress:  viper.GetString("marketplace.factory_address"),
		},
		Keeper: KeeperConfig{
			Interval:  viper.GetDuration("keeper.interval"),
			BatchSize: viper.GetInt("keeper.batch_size"),
		},
		JWT: JWTConfig{
			SecretKey: viper.GetString("jwt.secret_key"),
		},
		Log: LogConfig{
			Path:  viper.GetString("log.path"),
			Debug: viper.GetBool("log.debug"),
		},
		Events: EventsConfig{
			Queue: viper.GetString("events.queue"),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fileRead, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, fileRead, nil
}
