// Command nvd_loader imports the NVD feed files into the SQLite
// mirror consumed by the pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/seccorpus/certmap/internal/adapters/nvd"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	dbPath := flag.String("db", "nvd.db", "Path to the NVD mirror SQLite database")
	cvePath := flag.String("cve", "", "CVE feed JSON file")
	cpePath := flag.String("cpe", "", "CPE dictionary JSON file")
	matchPath := flag.String("match", "", "CPE match-string dictionary JSON file")
	flag.Parse()

	if err := run(*dbPath, *cvePath, *cpePath, *matchPath); err != nil {
		fmt.Fprintln(os.Stderr, "nvd_loader:", err)
		os.Exit(1)
	}
}

func run(dbPath, cvePath, cpePath, matchPath string) error {
	if cvePath == "" && cpePath == "" && matchPath == "" {
		return fmt.Errorf("nothing to load: pass at least one of -cve, -cpe, -match")
	}

	db, err := nvd.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cvePath != "" {
		if err := db.LoadCVEFeed(ctx, cvePath); err != nil {
			return fmt.Errorf("cve feed: %w", err)
		}
	}
	if cpePath != "" {
		if err := db.LoadCPEFeed(ctx, cpePath); err != nil {
			return fmt.Errorf("cpe feed: %w", err)
		}
	}
	if matchPath != "" {
		if err := db.LoadMatchFeed(ctx, matchPath); err != nil {
			return fmt.Errorf("match feed: %w", err)
		}
	}
	return nil
}
