/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// ConsumerSettings are the per-action bus consumer settings, resolved from
// environment keys of the form CONSUMER_TRANSFER_<ACTION>_*.
type ConsumerSettings struct {
	Prefetch   int
	AutoCommit bool
}

// Config holds all the configuration variables for the transfer-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort     string `mapstructure:"SERVER_PORT"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	RabbitMQURL    string `mapstructure:"RABBITMQ_URL"`
	BusExchange    string `mapstructure:"BUS_EXCHANGE"`
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`

	SupportedCurrencies    string `mapstructure:"SUPPORTED_CURRENCIES"`
	ParticipantRefreshCron string `mapstructure:"PARTICIPANT_REFRESH_CRON"`

	PrepareConsumerPrefetch    int  `mapstructure:"CONSUMER_TRANSFER_PREPARE_PREFETCH"`
	PrepareConsumerAutoCommit  bool `mapstructure:"CONSUMER_TRANSFER_PREPARE_AUTO_COMMIT"`
	FulfilConsumerPrefetch     int  `mapstructure:"CONSUMER_TRANSFER_FULFIL_PREFETCH"`
	FulfilConsumerAutoCommit   bool `mapstructure:"CONSUMER_TRANSFER_FULFIL_AUTO_COMMIT"`
	TransferConsumerPrefetch   int  `mapstructure:"CONSUMER_TRANSFER_TRANSFER_PREFETCH"`
	TransferConsumerAutoCommit bool `mapstructure:"CONSUMER_TRANSFER_TRANSFER_AUTO_COMMIT"`
}

// Currencies returns the supported currency allow-list.
func (c Config) Currencies() []string {
	parts := strings.Split(c.SupportedCurrencies, ",")
	currencies := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			currencies = append(currencies, trimmed)
		}
	}
	return currencies
}

// ConsumerSettingsFor resolves the consumer settings for a transfer action.
// Unknown actions fall back to the transfer consumer settings.
func (c Config) ConsumerSettingsFor(action string) ConsumerSettings {
	switch action {
	case "prepare":
		return ConsumerSettings{Prefetch: c.PrepareConsumerPrefetch, AutoCommit: c.PrepareConsumerAutoCommit}
	case "commit", "reject", "fulfil":
		return ConsumerSettings{Prefetch: c.FulfilConsumerPrefetch, AutoCommit: c.FulfilConsumerAutoCommit}
	default:
		return ConsumerSettings{Prefetch: c.TransferConsumerPrefetch, AutoCommit: c.TransferConsumerAutoCommit}
	}
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8084")
	viper.SetDefault("BUS_EXCHANGE", "switch.events")
	viper.SetDefault("SUPPORTED_CURRENCIES", "USD,EUR,GBP,NGN,KES,TZS,UGX,ZMW")
	viper.SetDefault("CONSUMER_TRANSFER_PREPARE_PREFETCH", 1)
	viper.SetDefault("CONSUMER_TRANSFER_PREPARE_AUTO_COMMIT", false)
	viper.SetDefault("CONSUMER_TRANSFER_FULFIL_PREFETCH", 1)
	viper.SetDefault("CONSUMER_TRANSFER_FULFIL_AUTO_COMMIT", false)
	viper.SetDefault("CONSUMER_TRANSFER_TRANSFER_PREFETCH", 1)
	viper.SetDefault("CONSUMER_TRANSFER_TRANSFER_AUTO_COMMIT", false)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("BUS_EXCHANGE")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "TRANSFER_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("SUPPORTED_CURRENCIES")
	_ = viper.BindEnv("PARTICIPANT_REFRESH_CRON")
	_ = viper.BindEnv("CONSUMER_TRANSFER_PREPARE_PREFETCH")
	_ = viper.BindEnv("CONSUMER_TRANSFER_PREPARE_AUTO_COMMIT")
	_ = viper.BindEnv("CONSUMER_TRANSFER_FULFIL_PREFETCH")
	_ = viper.BindEnv("CONSUMER_TRANSFER_FULFIL_AUTO_COMMIT")
	_ = viper.BindEnv("CONSUMER_TRANSFER_TRANSFER_PREFETCH")
	_ = viper.BindEnv("CONSUMER_TRANSFER_TRANSFER_AUTO_COMMIT")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.BusExchange = strings.TrimSpace(config.BusExchange)
	if config.BusExchange == "" {
		config.BusExchange = "switch.events"
	}
	if config.PrepareConsumerPrefetch <= 0 {
		config.PrepareConsumerPrefetch = 1
	}
	if config.FulfilConsumerPrefetch <= 0 {
		config.FulfilConsumerPrefetch = 1
	}
	if config.TransferConsumerPrefetch <= 0 {
		config.TransferConsumerPrefetch = 1
	}

	return
}
