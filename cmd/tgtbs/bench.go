package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ehrlich-b/go-tgtbs"
	"github.com/ehrlich-b/go-tgtbs/internal/buffer"
	"github.com/ehrlich-b/go-tgtbs/internal/config"
	"github.com/ehrlich-b/go-tgtbs/internal/logging"
	"github.com/ehrlich-b/go-tgtbs/reactor"
)

// Bench implements subcommands.Command for the "bench" command.
type Bench struct {
	template    string
	path        string
	size        string
	workers     int
	commands    int
	blockSize   int
	readPercent int
	rate        float64
	burst       int
	submitters  int
	readOnly    bool
}

// Name implements subcommands.Command.Name.
func (*Bench) Name() string {
	return "bench"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Bench) Synopsis() string {
	return "run a mixed read/write workload against a device"
}

// Usage implements subcommands.Command.Usage.
func (*Bench) Usage() string {
	return `bench [flags] - open a device on a template, submit a rate-limited
workload from several goroutines and print the device metrics.
Unset flags take their value from the configuration.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Bench) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.template, "template", "", "backing-store template")
	f.StringVar(&b.path, "path", "", "backing path")
	f.StringVar(&b.size, "size", "", "device size (e.g. 64M, 1G)")
	f.IntVar(&b.workers, "workers", 0, "worker threads")
	f.IntVar(&b.commands, "n", 0, "number of commands")
	f.IntVar(&b.blockSize, "bs", 0, "bytes per command")
	f.IntVar(&b.readPercent, "read-percent", -1, "share of reads, 0-100")
	f.Float64Var(&b.rate, "rate", -1, "submissions per second, 0 for unlimited")
	f.IntVar(&b.burst, "burst", 0, "submission burst when rate limited")
	f.IntVar(&b.submitters, "submitters", 0, "submitting goroutines")
	f.BoolVar(&b.readOnly, "ro", false, "open the device read-only")
}

// apply overlays the flags that were set onto cfg.
func (b *Bench) apply(cfg *config.Config) error {
	if b.template != "" {
		cfg.Device.Template = b.template
	}
	if b.path != "" {
		cfg.Device.Path = b.path
	}
	if b.size != "" {
		size, err := parseSize(b.size)
		if err != nil {
			return fmt.Errorf("invalid size %q: %w", b.size, err)
		}
		cfg.Device.SizeMB = size >> 20
	}
	if b.workers > 0 {
		cfg.Device.Workers = b.workers
	}
	if b.commands > 0 {
		cfg.Bench.Commands = b.commands
	}
	if b.blockSize > 0 {
		cfg.Bench.BlockSize = b.blockSize
	}
	if b.readPercent >= 0 {
		cfg.Bench.ReadPercent = b.readPercent
	}
	if b.rate >= 0 {
		cfg.Bench.Rate = b.rate
	}
	if b.burst > 0 {
		cfg.Bench.Burst = b.burst
	}
	if b.submitters > 0 {
		cfg.Bench.Submitters = b.submitters
	}
	if b.readOnly {
		cfg.Device.ReadOnly = true
	}
	return cfg.Validate()
}

// Execute implements subcommands.Command.Execute.
func (b *Bench) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	cfg := *args[0].(*config.Config)
	if err := b.apply(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "bench: %v\n", err)
		return subcommands.ExitUsageError
	}

	res, err := runBench(ctx, newRegistry(&cfg), &cfg)
	if err != nil {
		logging.Error("bench failed", "error", err)
		return subcommands.ExitFailure
	}
	res.print(os.Stdout)
	return subcommands.ExitSuccess
}

// benchResult summarizes one run.
type benchResult struct {
	template  string
	commands  int
	rejected  int64
	failed    int64
	elapsed   time.Duration
	metrics   tgtbs.MetricsSnapshot
	pool      tgtbs.PoolStats
	blockSize int
}

// runBench opens the configured device under a private reactor, submits
// cfg.Bench.Commands commands and waits for every completion.
func runBench(ctx context.Context, reg *tgtbs.Registry, cfg *config.Config) (*benchResult, error) {
	logger := logging.Default()

	r, err := reactor.New(reactor.Config{Logger: logger.WithComponent("reactor")})
	if err != nil {
		return nil, fmt.Errorf("create reactor: %w", err)
	}
	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(context.Background()) }()
	defer func() {
		r.Stop()
		<-runErr
		r.Close()
	}()

	params := tgtbs.DeviceParams{
		Name:     cfg.Device.Name,
		Template: cfg.Device.Template,
		Path:     cfg.Device.Path,
		Size:     cfg.DeviceSize(),
		Workers:  cfg.Device.Workers,
		ReadOnly: cfg.Device.ReadOnly,
	}
	dev, err := tgtbs.Open(r, reg, params, &tgtbs.Options{Logger: logger})
	if err != nil {
		return nil, err
	}

	total := cfg.Bench.Commands
	bs := cfg.Bench.BlockSize
	blocks := dev.Size() / int64(bs)
	if blocks == 0 {
		dev.Close(context.Background())
		return nil, fmt.Errorf("device size %d is smaller than one %d byte block", dev.Size(), bs)
	}

	var (
		finished atomic.Int64
		rejected atomic.Int64
		failed   atomic.Int64
		done     = make(chan struct{})
	)
	finish := func() {
		if finished.Add(1) == int64(total) {
			close(done)
		}
	}
	onDone := func(cmd *tgtbs.Command, res tgtbs.Result) {
		buffer.Put(cmd.Buf)
		if !res.OK() {
			failed.Add(1)
		}
		finish()
	}

	limit := rate.Inf
	if cfg.Bench.Rate > 0 {
		limit = rate.Limit(cfg.Bench.Rate)
	}
	limiter := rate.NewLimiter(limit, max(cfg.Bench.Burst, 1))

	submitters := max(cfg.Bench.Submitters, 1)
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for s := 0; s < submitters; s++ {
		rng := rand.New(rand.NewSource(start.UnixNano() + int64(s)))
		first := s
		g.Go(func() error {
			for i := first; i < total; i += submitters {
				if err := limiter.Wait(gctx); err != nil {
					for ; i < total; i += submitters {
						finish()
					}
					return err
				}

				op := tgtbs.OpWrite
				if rng.Intn(100) < cfg.Bench.ReadPercent {
					op = tgtbs.OpRead
				}
				buf := buffer.Get(bs)
				off := rng.Int63n(blocks) * int64(bs)
				cmd := tgtbs.NewCommand(uint64(i), op, off, buf, onDone)
				if err := dev.Submit(cmd); err != nil {
					buffer.Put(buf)
					rejected.Add(1)
					finish()
				}
			}
			return nil
		})
	}

	subErr := g.Wait()
	if total > 0 {
		<-done
	}
	elapsed := time.Since(start)

	closeErr := dev.Close(context.Background())
	if err := errors.Join(subErr, closeErr); err != nil {
		return nil, err
	}

	return &benchResult{
		template:  params.Template,
		commands:  total,
		rejected:  rejected.Load(),
		failed:    failed.Load(),
		elapsed:   elapsed,
		metrics:   dev.MetricsSnapshot(),
		pool:      dev.Stats(),
		blockSize: bs,
	}, nil
}

func (r *benchResult) print(w io.Writer) {
	m := r.metrics
	secs := r.elapsed.Seconds()
	if secs == 0 {
		secs = 1e-9
	}
	fmt.Fprintf(w, "template:        %s\n", r.template)
	fmt.Fprintf(w, "commands:        %d (%d rejected, %d failed)\n", r.commands, r.rejected, r.failed)
	fmt.Fprintf(w, "block size:      %s\n", formatSize(int64(r.blockSize)))
	fmt.Fprintf(w, "elapsed:         %v\n", r.elapsed.Round(time.Microsecond))
	fmt.Fprintf(w, "throughput:      %.0f IOPS, %s/s\n", float64(m.TotalOps)/secs, formatSize(int64(float64(m.TotalBytes)/secs)))
	fmt.Fprintf(w, "reads/writes:    %d / %d\n", m.ReadOps, m.WriteOps)
	fmt.Fprintf(w, "workers:         %d (peak executing %d)\n", r.pool.Workers, r.pool.MaxExecuting)
	fmt.Fprintf(w, "batches:         %d (avg %.1f, max %d)\n", m.Batches, m.AvgBatchSize, m.MaxBatchSize)
	fmt.Fprintf(w, "notify credit:   max outstanding %d\n", r.pool.MaxOutstandingNotify)
	fmt.Fprintf(w, "exec latency:    avg %v p50 %v p99 %v\n",
		time.Duration(m.AvgLatencyNs), time.Duration(m.LatencyP50Ns), time.Duration(m.LatencyP99Ns))
	fmt.Fprintf(w, "completion:      avg %v p50 %v p99 %v\n",
		time.Duration(m.AvgCompletionNs), time.Duration(m.CompletionP50Ns), time.Duration(m.CompletionP99Ns))
}
