// Package config loads each service's environment-driven configuration,
// following the teacher's Default()-then-LoadFromEnv() shape
// (params.Default / params.LoadFromEnv) with .env support via
// github.com/joho/godotenv.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Matching holds the matching-engine service's configuration
// (cmd/matchingengine), per spec.md §6.
type Matching struct {
	Symbol            string
	DatabaseURL       string
	AccountsURL       string
	OrderReceiverBind string
	EventSenderBind   string
	EventSenderAddr   string
	MaxBatchDelay     time.Duration
	HeartbeatInterval time.Duration
	StreamTimeout     time.Duration
	PebbleDataDir     string
	PrometheusAddr    string
	LogFile           string
}

// Accounts holds the accounts service's configuration (cmd/accounts).
type Accounts struct {
	BindAddr          string
	DatabaseURL       string
	OrderSenderBind   string
	MatchingEngineUDP string
	PrometheusAddr    string
	LogFile           string
}

// Gateway holds the event-relay/gateway service's configuration
// (cmd/gateway).
type Gateway struct {
	BindAddr          string
	EventReceiverBind string
	// Symbols is parsed from SYMBOL as a comma-separated list so one
	// gateway process can relay every matching engine's stream on a
	// single EVENT_RECEIVER_BIND port, routing by
	// marketdata.StreamIDFor(symbol) (SPEC_FULL.md §4.10).
	Symbols        []string
	PebbleDataDir  string
	PrometheusAddr string
	LogFile        string
}

// DefaultMatching returns the matching engine's defaults before any
// environment override, matching the teacher's Default() convention.
func DefaultMatching() Matching {
	return Matching{
		Symbol:            "KCN/EUR",
		DatabaseURL:       "",
		AccountsURL:       "http://localhost:8081",
		OrderReceiverBind: ":9001",
		EventSenderBind:   ":0",
		EventSenderAddr:   "127.0.0.1:9002",
		MaxBatchDelay:     100 * time.Microsecond,
		HeartbeatInterval: 1 * time.Second,
		StreamTimeout:     500 * time.Millisecond,
		PebbleDataDir:     "data/matchingengine",
		PrometheusAddr:    ":2112",
	}
}

// DefaultAccounts returns the accounts service's defaults.
func DefaultAccounts() Accounts {
	return Accounts{
		BindAddr:          ":8081",
		DatabaseURL:       "postgres://localhost:5432/kcnexchange?sslmode=disable",
		OrderSenderBind:   ":0",
		MatchingEngineUDP: "127.0.0.1:9001",
		PrometheusAddr:    ":2113",
	}
}

// DefaultGateway returns the gateway service's defaults.
func DefaultGateway() Gateway {
	return Gateway{
		BindAddr:          ":8080",
		EventReceiverBind: ":9002",
		Symbols:           []string{"KCN/EUR"},
		PebbleDataDir:     "data/gateway",
		PrometheusAddr:    ":2114",
	}
}

// LoadMatching loads Matching config from .env (if present) then the
// environment, priority ENV > .env > defaults, per the teacher's
// LoadFromEnv docstring.
func LoadMatching() Matching {
	_ = godotenv.Load()
	cfg := DefaultMatching()
	cfg.Symbol = getEnv("SYMBOL", cfg.Symbol)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.AccountsURL = getEnv("ACCOUNTS_URL", cfg.AccountsURL)
	cfg.OrderReceiverBind = getEnv("ORDER_RECEIVER_BIND", cfg.OrderReceiverBind)
	cfg.EventSenderBind = getEnv("EVENT_SENDER_BIND", cfg.EventSenderBind)
	cfg.EventSenderAddr = getEnv("GATEWAY_EVENT_ADDR", cfg.EventSenderAddr)
	cfg.PebbleDataDir = getEnv("PEBBLE_DATA_DIR", cfg.PebbleDataDir)
	cfg.PrometheusAddr = getEnv("PROMETHEUS_ADDR", cfg.PrometheusAddr)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	return cfg
}

// LoadAccounts loads Accounts config from .env then the environment.
func LoadAccounts() Accounts {
	_ = godotenv.Load()
	cfg := DefaultAccounts()
	cfg.BindAddr = getEnv("BIND_ADDR", cfg.BindAddr)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.OrderSenderBind = getEnv("ORDER_SENDER_BIND", cfg.OrderSenderBind)
	cfg.MatchingEngineUDP = getEnv("MATCHING_ENGINE_UDP_ADDR", cfg.MatchingEngineUDP)
	cfg.PrometheusAddr = getEnv("PROMETHEUS_ADDR", cfg.PrometheusAddr)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	return cfg
}

// LoadGateway loads Gateway config from .env then the environment.
func LoadGateway() Gateway {
	_ = godotenv.Load()
	cfg := DefaultGateway()
	cfg.BindAddr = getEnv("BIND_ADDR", cfg.BindAddr)
	cfg.EventReceiverBind = getEnv("EVENT_RECEIVER_BIND", cfg.EventReceiverBind)
	if raw := os.Getenv("SYMBOL"); raw != "" {
		var symbols []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				symbols = append(symbols, part)
			}
		}
		cfg.Symbols = symbols
	}
	cfg.PebbleDataDir = getEnv("PEBBLE_DATA_DIR", cfg.PebbleDataDir)
	cfg.PrometheusAddr = getEnv("PROMETHEUS_ADDR", cfg.PrometheusAddr)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	return cfg
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
