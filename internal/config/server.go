package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"
)

// Server holds the signaling server's configuration.
type Server struct {
	Addr           string
	AllowedOrigins []string
	LogLevel       string
	LogFormat      string

	RoomRetention time.Duration
	SweepInterval time.Duration

	// Per-connection inbound message limit.
	RateLimit rate.Limit
	RateBurst int

	SendBuffer      int
	ShutdownTimeout time.Duration
}

// LoadServer reads the server configuration from the environment. Files in
// envFiles are loaded first when they exist; variables already set in the
// environment win over the file.
func LoadServer(envFiles ...string) (*Server, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":" + getEnv("PORT", "3001")
	}

	cfg := &Server{
		Addr:            addr,
		AllowedOrigins:  splitCSV(getEnv("ALLOWED_ORIGINS", DefaultWebURL)),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "text"),
		SendBuffer:      256,
		ShutdownTimeout: 10 * time.Second,
	}

	var err error
	if cfg.RoomRetention, err = getEnvDuration("ROOM_RETENTION", time.Hour); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getEnvDuration("SWEEP_INTERVAL", time.Hour); err != nil {
		return nil, err
	}

	limit, err := getEnvFloat("RATE_LIMIT", 20)
	if err != nil {
		return nil, err
	}
	cfg.RateLimit = rate.Limit(limit)
	if cfg.RateBurst, err = getEnvInt("RATE_BURST", 40); err != nil {
		return nil, err
	}
	if cfg.SendBuffer, err = getEnvInt("SEND_BUFFER", cfg.SendBuffer); err != nil {
		return nil, err
	}

	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	return cfg, nil
}

// getEnv returns the env var or a default
func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return 0, fmt.Errorf("%s: want a positive integer, got %q", k, v)
	}
	return i, nil
}

func getEnvFloat(k string, def float64) (float64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("%s: want a positive number, got %q", k, v)
	}
	return f, nil
}

func getEnvDuration(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return d, nil
}
