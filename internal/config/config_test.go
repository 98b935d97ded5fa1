package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "SERVER_PORT")
	unsetEnvWithCleanup(t, "BUS_EXCHANGE")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8084" {
		t.Fatalf("expected default port 8084, got %q", cfg.ServerPort)
	}
	if cfg.BusExchange != "switch.events" {
		t.Fatalf("expected default exchange, got %q", cfg.BusExchange)
	}
	if cfg.PrepareConsumerAutoCommit || cfg.FulfilConsumerAutoCommit || cfg.TransferConsumerAutoCommit {
		t.Fatal("manual commit must be the default for every consumer")
	}
}

func TestLoadConfig_UsesTransferServiceInternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	setEnvWithCleanup(t, "TRANSFER_SERVICE_INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_ConsumerSettingsKeyedByAction(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "CONSUMER_TRANSFER_PREPARE_PREFETCH", "5")
	setEnvWithCleanup(t, "CONSUMER_TRANSFER_FULFIL_AUTO_COMMIT", "true")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	prepare := cfg.ConsumerSettingsFor("prepare")
	if prepare.Prefetch != 5 || prepare.AutoCommit {
		t.Fatalf("unexpected prepare settings: %+v", prepare)
	}
	fulfil := cfg.ConsumerSettingsFor("commit")
	if !fulfil.AutoCommit {
		t.Fatalf("expected fulfil auto-commit on, got %+v", fulfil)
	}
	transfer := cfg.ConsumerSettingsFor("transfer")
	if transfer.Prefetch != 1 || transfer.AutoCommit {
		t.Fatalf("unexpected transfer settings: %+v", transfer)
	}
}

func TestLoadConfig_CurrenciesParsed(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SUPPORTED_CURRENCIES", "USD, EUR ,,NGN")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	currencies := cfg.Currencies()
	if len(currencies) != 3 || currencies[0] != "USD" || currencies[1] != "EUR" || currencies[2] != "NGN" {
		t.Fatalf("unexpected currency list: %v", currencies)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
