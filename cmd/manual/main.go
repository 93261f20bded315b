package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/pkg/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/shivam-909/gofullymanual/alloc"
	"github.com/shivam-909/gofullymanual/alloc/pagesource"
	"github.com/shivam-909/gofullymanual/internal/config"
	"github.com/shivam-909/gofullymanual/internal/logging"
	"github.com/shivam-909/gofullymanual/internal/metrics"
	"github.com/shivam-909/gofullymanual/internal/orderbook"
	manualbook "github.com/shivam-909/gofullymanual/internal/orderbook/manual"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.NewLogger(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel})
	if err != nil {
		return err
	}

	switch cfg.Profile {
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.Quiet).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.Quiet).Stop()
	}

	a, err := newAllocator(cfg, log)
	if err != nil {
		return err
	}
	h := shareHeap(cfg, a)

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(metrics.NewCollector(h))
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("metrics server")
			}
		}()
	}

	books := make([]*manualbook.Book, cfg.Workers)
	per := cfg.Ops / cfg.Workers
	start := time.Now()

	var g errgroup.Group
	for w := range cfg.Workers {
		books[w] = manualbook.New(h)
		g.Go(func() error {
			gen := orderbook.NewGenerator(uint64(w) + 1)
			for i := 0; i < per; i++ {
				if err := gen.Act(books[w]); err != nil {
					return fmt.Errorf("worker %d op %d: %w", w, i, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	elapsed := time.Since(start)
	N := per * cfg.Workers
	average := elapsed / time.Duration(N)
	fmt.Printf("Binned Allocator || %d OPS || %d WORKERS || TOTAL: %v || AVERAGE: %v\n", N, cfg.Workers, elapsed, average)

	if cfg.Validate {
		if err := h.ValidateHeap(); err != nil {
			return err
		}
	}
	if log.GetLevel() <= zerolog.DebugLevel {
		h.DumpAllocations(log)
	}

	for _, b := range books {
		b.Release()
	}
	s := h.Stats()
	log.Info().
		Uint64("os_peak", uint64(s.OSPeak)).
		Uint64("used_peak", uint64(s.UsedPeak)).
		Uint64("total_allocs", s.TotalAllocs).
		Uint64("live_allocs", s.CurrentAllocs).
		Msg("done")
	return a.Trim()
}

// heap is what the driver needs from the allocator it times.
type heap interface {
	alloc.Heap
	alloc.StatsReporter
	DumpAllocations(zerolog.Logger)
}

// shareHeap locks a whenever anything besides a single worker touches it:
// several workers, or the metrics endpoint reading stats mid-run.
func shareHeap(cfg config.Config, a *alloc.Allocator) heap {
	if cfg.Workers > 1 || cfg.MetricsAddr != "" {
		return alloc.NewSynchronized(a)
	}
	return a
}

func newAllocator(cfg config.Config, log zerolog.Logger) (*alloc.Allocator, error) {
	var src alloc.PageSource = pagesource.NewMmap(cfg.PageSize)
	if cfg.CacheOSAllocs {
		src = pagesource.NewCache(src, pagesource.DefaultCacheConfig())
	}

	opts := []alloc.Option{alloc.WithLogger(log)}
	if cfg.AddressLimit != 0 {
		opts = append(opts, alloc.WithAddressLimit(cfg.AddressLimit))
	}
	return alloc.New(src, opts...)
}
