package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shivam-909/gofullymanual/internal/config"
	"github.com/shivam-909/gofullymanual/internal/orderbook"
	standardbook "github.com/shivam-909/gofullymanual/internal/orderbook/standard"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	N, err := opCount(cfg, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ob := standardbook.New()
	gen := orderbook.NewGenerator(1)

	start := time.Now()

	for i := 0; i < N; i++ {
		if err := gen.Act(ob); err != nil {
			panic(err)
		}
	}

	elapsed := time.Since(start)
	average := elapsed / time.Duration(N)

	fmt.Printf("Standard Allocator || %d OPS || TOTAL: %v || AVERAGE: %v\n", N, elapsed, average)
}

// opCount returns the number of operations to run. A positional count
// overrides BINNED_OPS.
func opCount(cfg config.Config, args []string) (int, error) {
	n := cfg.Ops
	if len(args) > 0 {
		var err error
		if n, err = strconv.Atoi(args[0]); err != nil {
			return 0, fmt.Errorf("op count: %w", err)
		}
	}
	if n <= 0 {
		return 0, fmt.Errorf("op count must be positive, got %d", n)
	}
	return n, nil
}
