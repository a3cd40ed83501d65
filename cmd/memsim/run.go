package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	mempool "github.com/holmberd/go-mempool"
)

var (
	runStrategy string
)

func init() {
	cmd := newRunCmd()
	cmd.Flags().StringVar(&runStrategy, "strategy", "", "Override the scenario's initial strategy")
	rootCmd.AddCommand(cmd)
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <scenario.toml>",
		Short: "Replay a scenario against a pool",
		Long: `The run command initializes a pool as described by a TOML scenario file,
replays its operations in order and prints the final occupancy stats.

Example:
  memsim run fragmentation.toml
  memsim run fragmentation.toml --strategy worst-fit -v`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(args[0])
		},
	}
	return cmd
}

func runScenarioFile(path string) error {
	printVerbose("Loading scenario: %s\n", path)
	s, err := LoadScenario(path)
	if err != nil {
		return err
	}
	if runStrategy != "" {
		if _, err := mempool.StrategyByName(runStrategy); err != nil {
			return err
		}
		s.Strategy = runStrategy
	}

	var out io.Writer = io.Discard
	if !quiet {
		out = rootCmd.OutOrStdout()
	}
	stats, fingerprint, err := replay(s, out, logger)
	if err != nil {
		return err
	}
	printInfo("\nSummary:\n")
	printInfo("  Capacity: %d words\n", stats.CapacityWords)
	printInfo("  Used: %d words in %d allocations\n", stats.UsedWords, stats.Allocations)
	printInfo("  Free: %d words in %d holes (largest %d)\n", stats.FreeWords, stats.Holes, stats.LargestHole)
	printInfo("  Fragmentation: %.1f%%\n", stats.Fragmentation()*100)
	printInfo("  Fingerprint: %016x\n", fingerprint)
	return nil
}

// replayer applies scenario operations to a pool, tracking allocations by name.
type replayer struct {
	pool  *mempool.Pool
	out   io.Writer
	addrs map[string]mempool.Addr
}

// replay runs s to completion and returns the final pool stats and fingerprint.
// Allocations that do not fit are reported and skipped; any other failure stops the replay.
func replay(s *Scenario, out io.Writer, logger *slog.Logger) (mempool.Stats, uint64, error) {
	source, closeSource := newSource(s.Source)
	defer closeSource()

	strategy, err := mempool.StrategyByName(s.Strategy)
	if err != nil {
		return mempool.Stats{}, 0, err
	}
	pool, err := mempool.New(mempool.Config{
		WordSize: s.WordSize,
		MaxWords: s.MaxWords,
		Source:   source,
		Logger:   logger,
	}, strategy)
	if err != nil {
		return mempool.Stats{}, 0, err
	}
	defer pool.Shutdown()

	r := &replayer{pool: pool, out: out}
	if err := r.init(s.Capacity); err != nil {
		return mempool.Stats{}, 0, err
	}
	for i, op := range s.Ops {
		if err := r.apply(op); err != nil {
			return mempool.Stats{}, 0, fmt.Errorf("op %d (%s): %w", i+1, op.Kind, err)
		}
	}
	return pool.Stats(), pool.Fingerprint(), nil
}

func newSource(name string) (mempool.BufferSource, func()) {
	switch name {
	case sourceMmap:
		return mempool.MmapSource{}, func() {}
	case sourceRecycling:
		rs := mempool.NewRecyclingSource(mempool.MmapSource{}, recyclingFreeThreshold)
		return rs, func() {
			if err := rs.Close(); err != nil {
				logger.Error("Failed to close recycling source", "error", err)
			}
		}
	default:
		return mempool.HeapSource{}, func() {}
	}
}

func (r *replayer) init(words int) error {
	r.addrs = make(map[string]mempool.Addr)
	if err := r.pool.Initialize(words); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "init %d words of %d bytes\n", words, r.pool.WordSize())
	return nil
}

func (r *replayer) apply(op Op) error {
	p := r.pool
	switch op.Kind {
	case "init":
		return r.init(op.Words)

	case "alloc":
		if _, ok := r.addrs[op.Name]; ok {
			return fmt.Errorf("allocation %q is still outstanding", op.Name)
		}
		addr, err := p.Allocate(op.Bytes)
		if errors.Is(err, mempool.ErrNoFit) {
			fmt.Fprintf(r.out, "alloc %s %d bytes: no fit\n", op.Name, op.Bytes)
			return nil
		}
		if err != nil {
			return err
		}
		r.addrs[op.Name] = addr
		fmt.Fprintf(r.out, "alloc %s %d bytes -> offset %d\n", op.Name, op.Bytes, r.wordOffset(addr))

	case "free":
		addr, ok := r.addrs[op.Name]
		if !ok {
			return fmt.Errorf("unknown allocation %q", op.Name)
		}
		if err := p.Free(addr); err != nil {
			return err
		}
		delete(r.addrs, op.Name)
		fmt.Fprintf(r.out, "free %s\n", op.Name)

	case "strategy":
		strategy, err := mempool.StrategyByName(op.Strategy)
		if err != nil {
			return err
		}
		p.SetStrategy(strategy)
		fmt.Fprintf(r.out, "strategy %s\n", op.Strategy)

	case "map":
		fmt.Fprint(r.out, "map ")
		if err := p.WriteMemoryMap(r.out); err != nil {
			return err
		}
		fmt.Fprintln(r.out)

	case "dump":
		if err := p.DumpMemoryMap(op.Path); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "dump %s\n", op.Path)

	case "bitmap":
		fmt.Fprintf(r.out, "bitmap %s\n", hex.EncodeToString(p.Bitmap()))

	case "list":
		fmt.Fprintf(r.out, "list %v\n", p.List())

	case "verify":
		if err := p.Verify(); err != nil {
			return err
		}
		fmt.Fprintln(r.out, "verify ok")

	default:
		return fmt.Errorf("unknown kind %q", op.Kind)
	}
	return nil
}

func (r *replayer) wordOffset(addr mempool.Addr) int {
	return int(addr-r.pool.MemoryStart()) / r.pool.WordSize()
}
