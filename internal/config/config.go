// Package config loads application configuration from a .env file,
// the environment and command line flags, in increasing precedence.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Addr         string
	DBPath       string
	NVDDBPath    string
	ArtifactRoot string
	CatalogPath  string
	RulesPath    string
	Workers      int
	LockTTL      time.Duration
	FetchTimeout time.Duration
	Pdftotext    string
	Projection   string
	KeepUnknowns bool
	Debug        bool
}

// Load parses the optional .env file, environment variables and
// command line flags to populate Config. Flags take precedence over
// the environment. args are the command arguments after the
// subcommand.
func Load(args []string) (*Config, error) {
	// Missing .env is fine; explicit env vars still apply.
	godotenv.Load()

	cfg := &Config{}
	cfg.Addr = getEnv("CERTMAP_ADDR", ":8080")
	cfg.DBPath = getEnv("CERTMAP_DB", "certmap.db")
	cfg.NVDDBPath = getEnv("CERTMAP_NVD_DB", "nvd.db")
	cfg.ArtifactRoot = getEnv("CERTMAP_ARTIFACTS", "artifacts")
	cfg.CatalogPath = getEnv("CERTMAP_CATALOG", "configs/keywords.yaml")
	cfg.RulesPath = getEnv("CERTMAP_RULES", "configs/cert_id_rules.yaml")
	cfg.Workers = getEnvInt("CERTMAP_WORKERS", 4)
	cfg.LockTTL = getEnvDuration("CERTMAP_LOCK_TTL", 2*time.Hour)
	cfg.FetchTimeout = getEnvDuration("CERTMAP_FETCH_TIMEOUT", 2*time.Minute)
	cfg.Pdftotext = getEnv("CERTMAP_PDFTOTEXT", "pdftotext")
	cfg.KeepUnknowns = getEnvBool("CERTMAP_KEEP_UNKNOWNS", false)

	fs := flag.NewFlagSet("certmap", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP server address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the snapshot SQLite database")
	fs.StringVar(&cfg.NVDDBPath, "nvd-db", cfg.NVDDBPath, "Path to the NVD mirror SQLite database")
	fs.StringVar(&cfg.ArtifactRoot, "artifacts", cfg.ArtifactRoot, "Artifact store root directory")
	fs.StringVar(&cfg.CatalogPath, "catalog", cfg.CatalogPath, "Keyword catalog YAML path")
	fs.StringVar(&cfg.RulesPath, "rules", cfg.RulesPath, "Certificate id rules YAML path")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Document worker pool size")
	fs.DurationVar(&cfg.LockTTL, "lock-ttl", cfg.LockTTL, "Run lock time to live")
	fs.DurationVar(&cfg.FetchTimeout, "fetch-timeout", cfg.FetchTimeout, "Per-document download timeout")
	fs.StringVar(&cfg.Pdftotext, "pdftotext", cfg.Pdftotext, "Path to pdftotext binary")
	fs.StringVar(&cfg.Projection, "p", "", "Query projection: JSON array of dotted paths")
	fs.BoolVar(&cfg.KeepUnknowns, "keep-unknowns", cfg.KeepUnknowns, "Record unresolved references as dangling")
	fs.BoolVar(&cfg.Debug, "debug", false, "Enable verbose debug logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
