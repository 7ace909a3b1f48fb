package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port          string
	ConnectionKey string
	DatabaseURL   string
	TickRate      int // ticks per second
	HistoryFrames int // frames retained in memory per room
	SendBuffer    int // outbound packets queued per connection
	InputHorizon  int // furthest frames ahead an input may target, 0 for no limit
}

// MaxTickRate caps TICK_RATE; faster rates are clamped to it.
const MaxTickRate = 1000

func Load() Config {
	cfg := Config{
		Port:          getEnv("PORT", "5000"),
		ConnectionKey: getEnv("CONNECTION_KEY", "TinySyncServer"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		TickRate:      min(getEnvPositiveInt("TICK_RATE", 30), MaxTickRate),
		HistoryFrames: getEnvPositiveInt("HISTORY_FRAMES", 1800),
		SendBuffer:    getEnvPositiveInt("SEND_BUFFER", 256),
		InputHorizon:  getEnvNonNegativeInt("INPUT_HORIZON", 0),
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvPositiveInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return fallback
}

func getEnvNonNegativeInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return i
		}
	}
	return fallback
}
