package config

import (
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadQuoteDefaults(t *testing.T) {
	t.Setenv("QUOTE_RETENTION_DAYS", "")
	t.Setenv("QUOTE_SWEEP_INTERVAL_MINUTES", "-5")

	cfg := Load()
	if cfg.QuoteRetention() != 8*24*time.Hour {
		t.Fatalf("expected 8 day retention, got %s", cfg.QuoteRetention())
	}
	if cfg.QuoteSweepInterval() != time.Hour {
		t.Fatalf("expected hourly sweep, got %s", cfg.QuoteSweepInterval())
	}
}

func TestCartIdleTimeout(t *testing.T) {
	t.Setenv("CART_IDLE_MINUTES", "")
	if got := Load().CartIdleTimeout(); got != 4*time.Hour {
		t.Fatalf("expected 4h default, got %s", got)
	}

	t.Setenv("CART_IDLE_MINUTES", "30")
	if got := Load().CartIdleTimeout(); got != 30*time.Minute {
		t.Fatalf("expected 30m, got %s", got)
	}
}

func TestKafkaBrokerList(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092 ")

	brokers := Load().KafkaBrokerList()
	if len(brokers) != 2 || brokers[0] != "kafka-1:9092" || brokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers: %v", brokers)
	}

	t.Setenv("KAFKA_BROKERS", "")
	if brokers := Load().KafkaBrokerList(); brokers != nil {
		t.Fatalf("expected no brokers, got %v", brokers)
	}
}

func TestLevelFallsBackToInfo(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	if got := Load().Level(); got != log.DebugLevel {
		t.Fatalf("expected debug level, got %s", got)
	}

	t.Setenv("LOG_LEVEL", "chatty")
	if got := Load().Level(); got != log.InfoLevel {
		t.Fatalf("expected info fallback, got %s", got)
	}
}
