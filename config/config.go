// Package config loads client settings from the environment.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	x402 "github.com/x402chat/client"
)

// DefaultAPIBase is the resource server used when none is configured
const DefaultAPIBase = "http://localhost:8000"

// Config is the client configuration
type Config struct {
	// APIBase is the chat resource server, without a trailing slash
	APIBase string
	// Network is the network payments are made on
	Network string
	// ChainIDOverride replaces the chain id of every network when set
	ChainIDOverride *big.Int

	// PrivateKey is the hex key of the paying wallet
	PrivateKey string
	// RPCURL is asked for the wallet's chain when WalletChainID is unset
	RPCURL string
	// WalletChainID pins the chain the wallet reports
	WalletChainID *big.Int
	// SmartWallet wraps signatures the way contract wallets do
	SmartWallet bool

	// MetricsAddr serves Prometheus metrics when set
	MetricsAddr string
	// LogLevel is a zap level name
	LogLevel string
	// OTLPEndpoint exports traces over OTLP/HTTP when set
	OTLPEndpoint string
}

// Load reads a .env file if one exists and then the environment
func Load(files ...string) (*Config, error) {
	// A missing .env is not an error
	_ = godotenv.Load(files...)
	return FromEnv(os.Getenv)
}

// FromEnv builds the configuration from getenv
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		APIBase:     strings.TrimRight(stringOr(getenv("X402_CHAT_API_BASE"), DefaultAPIBase), "/"),
		Network:     stringOr(getenv("X402_DEFAULT_NETWORK"), x402.DefaultNetwork),
		PrivateKey:  strings.TrimSpace(getenv("EVM_PRIVATE_KEY")),
		RPCURL:      getenv("EVM_RPC_URL"),
		MetricsAddr: getenv("METRICS_ADDR"),
		LogLevel:    stringOr(getenv("LOG_LEVEL"), "info"),

		OTLPEndpoint: strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
	}
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}

	var err error
	if cfg.ChainIDOverride, err = parseChainID("X402_DEFAULT_CHAIN_ID", getenv("X402_DEFAULT_CHAIN_ID")); err != nil {
		return nil, err
	}
	if cfg.WalletChainID, err = parseChainID("EVM_CHAIN_ID", getenv("EVM_CHAIN_ID")); err != nil {
		return nil, err
	}

	if v := getenv("EVM_SMART_WALLET"); v != "" {
		cfg.SmartWallet, err = strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid EVM_SMART_WALLET %q: %w", v, err)
		}
	}

	return cfg, nil
}

func stringOr(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}

func parseChainID(name, v string) (*big.Int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	id, ok := new(big.Int).SetString(v, 10)
	if !ok || id.Sign() <= 0 {
		return nil, fmt.Errorf("invalid %s %q: must be a positive integer", name, v)
	}
	return id, nil
}
