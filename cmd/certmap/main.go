package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/seccorpus/certmap/internal/app"
	"github.com/seccorpus/certmap/internal/config"
	"github.com/seccorpus/certmap/internal/telemetry"
)

const usage = `usage: certmap <cc|fips|pp> <command> [flags] [args]

commands:
  create                 initialize the snapshot store schema
  drop                   delete every record of the dataset
  update <manifest>      reconcile the dataset from a manifest file
  query <filter> [-p <proj>]  print live records matching a JSON filter
  status                 print dataset and feed status
  report <out.pdf>       render the latest run record to PDF
  serve                  run the read-only status server
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "certmap:", err)
		os.Exit(1)
	}
}

func run() error {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if len(os.Args) < 3 {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("missing dataset or command")
	}
	dataset, command := os.Args[1], os.Args[2]
	switch dataset {
	case app.DatasetCC, app.DatasetFIPS, app.DatasetPP:
	default:
		return fmt.Errorf("unknown dataset %q", dataset)
	}

	cfg, err := config.Load(flagArgs(os.Args[3:]))
	if err != nil {
		return err
	}

	shutdownTracer, err := telemetry.InitTracer(app.Version)
	if err != nil {
		slog.Error("Failed to init tracer", "error", err)
	} else {
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				slog.Error("Failed to shutdown tracer", "error", err)
			}
		}()
	}

	application, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	args := positionalArgs(os.Args[3:])
	switch command {
	case "create":
		return application.Create(ctx)
	case "drop":
		return application.Drop(ctx, dataset)
	case "update":
		if len(args) < 1 {
			return fmt.Errorf("update: manifest path required")
		}
		run, err := application.Update(ctx, dataset, args[0])
		if err != nil {
			return err
		}
		slog.Info("run finished",
			"run_id", run.RunID,
			"new", run.Stats.NewCerts,
			"changed", run.Stats.ChangedIDs,
			"removed", run.Stats.RemovedIDs)
		return nil
	case "query":
		if len(args) < 1 {
			return fmt.Errorf("query: JSON filter required")
		}
		return application.Query(ctx, dataset, args[0], cfg.Projection, os.Stdout)
	case "status":
		return application.Status(ctx, os.Stdout)
	case "report":
		if len(args) < 1 {
			return fmt.Errorf("report: output path required")
		}
		return application.Report(ctx, dataset, args[0])
	case "serve":
		return application.Serve(ctx)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

// flagArgs keeps only the leading flag-shaped arguments so positional
// manifest paths and JSON filters do not confuse the flag parser.
func flagArgs(args []string) []string {
	var flags []string
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 1 && args[i][0] == '-' {
			flags = append(flags, args[i])
			if i+1 < len(args) && !hasEqualSign(args[i]) && !isBoolFlag(args[i]) {
				flags = append(flags, args[i+1])
				i++
			}
			continue
		}
	}
	return flags
}

func positionalArgs(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 1 && args[i][0] == '-' {
			if !hasEqualSign(args[i]) && !isBoolFlag(args[i]) {
				i++
			}
			continue
		}
		out = append(out, args[i])
	}
	return out
}

func hasEqualSign(arg string) bool {
	for _, r := range arg {
		if r == '=' {
			return true
		}
	}
	return false
}

func isBoolFlag(arg string) bool {
	switch arg {
	case "-debug", "--debug", "-keep-unknowns", "--keep-unknowns":
		return true
	}
	return false
}
