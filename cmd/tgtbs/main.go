// Command tgtbs exercises the backing-store layer: it lists the registered
// templates and benchmarks a device under a reactor.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/google/subcommands"

	"github.com/ehrlich-b/go-tgtbs"
	"github.com/ehrlich-b/go-tgtbs/backend"
	"github.com/ehrlich-b/go-tgtbs/internal/config"
	"github.com/ehrlich-b/go-tgtbs/internal/logging"
)

var (
	configPath = flag.String("config", "", "path to the TOML config file (default "+config.DefaultPath+")")
	verbose    = flag.Bool("v", false, "enable debug logging")
	logFormat  = flag.String("log-format", "", "override log format (text or json)")
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(new(Templates), "")
	subcommands.Register(new(Bench), "")

	config.Usage(flag.CommandLine)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tgtbs: %v\n", err)
		os.Exit(2)
	}

	logConfig := logging.DefaultConfig()
	logConfig.Level = logging.ParseLevel(cfg.Log.Level)
	logConfig.Format = cfg.Log.Format
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	if *logFormat != "" {
		logConfig.Format = *logFormat
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	go dumpStacksOnSignal(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	status := subcommands.Execute(ctx, cfg)
	cancel()
	os.Exit(int(status))
}

// newRegistry returns a registry holding every built-in template configured
// from cfg.
func newRegistry(cfg *config.Config) *tgtbs.Registry {
	reg := tgtbs.NewRegistry()
	backend.RegisterAll(reg, backend.Options{
		AIO: backend.AIOOptions{
			RingEntries: cfg.AIO.RingEntries,
			Fallback:    cfg.AIO.Fallback,
		},
		S3: backend.S3Options{
			Remote:    cfg.S3.Remote,
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			ChunkSize: int64(cfg.S3ChunkSize()),
			Retries:   cfg.S3.Retries,
		},
	})
	return reg
}

// dumpStacksOnSignal writes all goroutine stacks to a file on SIGUSR1.
func dumpStacksOnSignal(logger *logging.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	for range ch {
		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)

		filename := fmt.Sprintf("tgtbs-stacks-%d.txt", time.Now().Unix())
		f, err := os.Create(filename)
		if err != nil {
			logger.Error("stack dump failed", "error", err)
			continue
		}
		fmt.Fprintf(f, "Goroutine stack dump at %s\n", time.Now().Format(time.RFC3339))
		fmt.Fprintf(f, "Process ID: %d\n\n", os.Getpid())
		f.Write(buf[:n])
		fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
		pprof.Lookup("goroutine").WriteTo(f, 2)
		f.Close()
		logger.Info("stack trace written to file", "file", filename)
	}
}
