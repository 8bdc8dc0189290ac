package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/kardex_backend/kardex"
	"github.com/shopspring/decimal"
)

func boolFromEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

func decimalFromEnv(key string, def decimal.Decimal) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil || d.IsNegative() {
		return def
	}
	return d
}

// CostingSettings reads the engine settings.
//
// Set via env:
// - COSTING_TOLERANCE (default 0.5): largest short-fall covered by an automatic adjustment
// - COSTING_EPSILON (default 0.000001): comparison slack for persisted decimals
// - COSTING_SUSPEND_ON_SHORTFALL=true: block the rest of a group after a flagged disposal
func CostingSettings() kardex.Settings {
	s := kardex.DefaultSettings()
	s.AutoAdjustLimit = decimalFromEnv("COSTING_TOLERANCE", s.AutoAdjustLimit)
	s.Epsilon = decimalFromEnv("COSTING_EPSILON", s.Epsilon)
	s.SuspendOnShortfall = boolFromEnv("COSTING_SUSPEND_ON_SHORTFALL")
	return s
}

// CostingLockTTL bounds how long one group lock is held. COSTING_LOCK_TTL_SECONDS, default 120.
func CostingLockTTL() time.Duration {
	return time.Duration(intFromEnv("COSTING_LOCK_TTL_SECONDS", 120)) * time.Second
}

// CostingCron is the schedule of the periodic full run, empty to disable.
// Example: COSTING_CRON="0 */15 * * * *" (seconds field included).
func CostingCron() string {
	return strings.TrimSpace(os.Getenv("COSTING_CRON"))
}

func SkipMigrations() bool {
	return boolFromEnv("SKIP_MIGRATIONS")
}

// CorsAllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func CorsAllowedOrigins() []string {
	raw := os.Getenv("CORS_ALLOWED_ORIGINS")
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func Port() string {
	if p := strings.TrimSpace(os.Getenv("PORT")); p != "" {
		if _, err := strconv.Atoi(p); err == nil {
			return p
		}
	}
	return "8080"
}
