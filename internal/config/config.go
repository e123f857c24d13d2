package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the bot reads at startup. All values come from
// the environment (a .env file is honored if present, real env wins).
type Config struct {
	IBHost   string
	IBPort   int
	ClientID int

	Symbol      string
	MAPeriod    int
	StrategyTag string

	ExitCheckHour   int
	ExitCheckMinute int

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string

	// Location is the reference time zone for scheduling and session math.
	Location *time.Location
}

// ValidationError carries every configuration violation found during Load so
// a single run surfaces all of them at once.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

func Load() (Config, error) {
	_ = godotenv.Load()

	var problems []string

	cfg := Config{
		IBHost:      envString("IB_HOST", "127.0.0.1"),
		Symbol:      strings.TrimSpace(envString("SYMBOL", "SPY")),
		StrategyTag: envString("STRATEGY_TAG", ""),
		DBHost:      envString("DB_HOST", "localhost"),
		DBName:      envString("DB_NAME", "trading"),
		DBUser:      envString("DB_USER", "botuser"),
		DBPassword:  envString("DB_PASSWORD", ""),
	}
	cfg.IBPort = envInt("IB_PORT", 4001, &problems)
	cfg.ClientID = envInt("IB_CLIENT_ID", 2, &problems)
	cfg.MAPeriod = envInt("MA_PERIOD", 40, &problems)
	cfg.ExitCheckHour = envInt("EXIT_CHECK_HOUR", 9, &problems)
	cfg.ExitCheckMinute = envInt("EXIT_CHECK_MINUTE", 29, &problems)
	cfg.DBPort = envInt("DB_PORT", 5432, &problems)

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return cfg, fmt.Errorf("load reference time zone: %w", err)
	}
	cfg.Location = loc

	problems = append(problems, validate(cfg)...)
	if len(problems) > 0 {
		return cfg, &ValidationError{Problems: problems}
	}
	return cfg, nil
}

func validate(cfg Config) []string {
	var problems []string
	if cfg.Symbol == "" {
		problems = append(problems, "SYMBOL must be non-empty")
	}
	if cfg.MAPeriod < 1 {
		problems = append(problems, "MA_PERIOD must be >= 1")
	}
	if cfg.MAPeriod > 200 {
		problems = append(problems, "MA_PERIOD should typically be <= 200")
	}
	if cfg.ExitCheckHour < 0 || cfg.ExitCheckHour > 23 {
		problems = append(problems, "EXIT_CHECK_HOUR must be between 0 and 23")
	}
	if cfg.ExitCheckMinute < 0 || cfg.ExitCheckMinute > 59 {
		problems = append(problems, "EXIT_CHECK_MINUTE must be between 0 and 59")
	}
	if strings.TrimSpace(cfg.IBHost) == "" {
		problems = append(problems, "IB_HOST must be non-empty")
	}
	if cfg.IBPort < 1 || cfg.IBPort > 65535 {
		problems = append(problems, "IB_PORT must be between 1 and 65535")
	}
	if cfg.DBPort < 1 || cfg.DBPort > 65535 {
		problems = append(problems, "DB_PORT must be between 1 and 65535")
	}
	if cfg.DBPassword == "" {
		problems = append(problems, "DB_PASSWORD must be set (no default)")
	}
	return problems
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int, problems *[]string) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s must be an integer, got %q", key, v))
		return fallback
	}
	return n
}
