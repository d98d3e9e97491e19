package config

import (
	"os"
	"strconv"
	"strings"
)

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envIntWithFallback(key string, fallback int) int {
	raw := envString(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBoundedIntWithFallback(key string, fallback, min, max int) int {
	value := envIntWithFallback(key, fallback)
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func envFloatWithFallback(key string, fallback float64) float64 {
	raw := envString(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
