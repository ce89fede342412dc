package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type MetricsCfg struct {
	Enabled bool
	Addr    string
	Path    string
}

type Config struct {
	Addr          string
	LogLevel      string
	LogConsole    bool
	LogSampleN    int
	InitTimeout   time.Duration
	SRSCacheSize  int
	ProjCacheSize int
	HTTPTimeout   time.Duration
	UserAgent     string
	Metrics       MetricsCfg
}

func FromEnv() Config {
	initTimeout := getduration("INIT_TIMEOUT", 30*time.Second)
	if initTimeout <= 0 {
		initTimeout = 30 * time.Second
	}

	return Config{
		Addr:          getenv("ADDR", ":8090"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		LogConsole:    getbool("LOG_CONSOLE", false),
		LogSampleN:    getint("LOG_SAMPLE_N", 0),
		InitTimeout:   initTimeout,
		SRSCacheSize:  getint("SRS_CACHE_SIZE", 64),
		ProjCacheSize: getint("PROJ_CACHE_SIZE", 16),
		HTTPTimeout:   getduration("HTTP_TIMEOUT", 30*time.Second),
		UserAgent:     getenv("HTTP_USER_AGENT", "wms-tilesource"),
		Metrics: MetricsCfg{
			Enabled: getbool("METRICS_ENABLED", false),
			Addr:    getenv("METRICS_ADDR", ":9090"),
			Path:    getenv("METRICS_PATH", "/metrics"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
