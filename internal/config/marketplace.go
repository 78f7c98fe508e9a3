package config

import (
	"os"
	"strconv"
	"time"
)

type MarketplaceConfig struct {
	// WithdrawalReserve is the balance a provider must retain to keep
	// accepting missions; withdrawals that would drop the balance below
	// it are refused (default 700 FCFA).
	WithdrawalReserve int64
	MinWithdrawal     int64
	MaxWithdrawal     int64
	// RetainCompletedPosts keeps completed posts with a terminal status
	// instead of deleting them.
	RetainCompletedPosts bool
	DepositQRTimeout     time.Duration
	MaxSearchRadiusKm    float64
}

func LoadMarketplaceConfig() *MarketplaceConfig {
	return &MarketplaceConfig{
		WithdrawalReserve:    getEnvAsInt64("WITHDRAWAL_RESERVE", 700),
		MinWithdrawal:        getEnvAsInt64("MIN_WITHDRAWAL", 1000),
		MaxWithdrawal:        getEnvAsInt64("MAX_WITHDRAWAL", 500000),
		RetainCompletedPosts: getEnvAsBool("RETAIN_COMPLETED_POSTS", false),
		DepositQRTimeout:     getEnvAsDuration("DEPOSIT_QR_TIMEOUT", 5*time.Minute),
		MaxSearchRadiusKm:    getEnvAsFloat("MAX_SEARCH_RADIUS_KM", 50),
	}
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if floatVal, err := strconv.ParseFloat(val, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
