package main

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"

	mempool "github.com/holmberd/go-mempool"
)

const (
	sourceHeap      = "heap"
	sourceMmap      = "mmap"
	sourceRecycling = "recycling"

	// Buffers kept by the recycling source between re-initializations.
	recyclingFreeThreshold = 4
)

var opKinds = []string{"alloc", "free", "init", "strategy", "map", "dump", "bitmap", "list", "verify"}

// Scenario is a pool configuration plus a sequence of operations to replay against it.
type Scenario struct {
	WordSize int    `toml:"word_size"`
	Capacity int    `toml:"capacity"` // In words.
	MaxWords int    `toml:"max_words"`
	Strategy string `toml:"strategy"`
	Source   string `toml:"source"`
	Ops      []Op   `toml:"op"`
}

// Op is a single scenario step. Which fields apply depends on Kind.
type Op struct {
	Kind     string `toml:"kind"`
	Name     string `toml:"name"`     // alloc, free
	Bytes    int    `toml:"bytes"`    // alloc
	Words    int    `toml:"words"`    // init
	Strategy string `toml:"strategy"` // strategy
	Path     string `toml:"path"`     // dump
}

// LoadScenario reads and validates the scenario file at path.
func LoadScenario(path string) (*Scenario, error) {
	var s Scenario
	md, err := toml.DecodeFile(path, &s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode scenario %s: %w", path, err)
	}
	return finishScenario(&s, md)
}

// ParseScenario decodes and validates a scenario from TOML text.
func ParseScenario(data string) (*Scenario, error) {
	var s Scenario
	md, err := toml.Decode(data, &s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode scenario: %w", err)
	}
	return finishScenario(&s, md)
}

func finishScenario(s *Scenario, md toml.MetaData) (*Scenario, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("invalid scenario: unknown keys %s", strings.Join(keys, ", "))
	}
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scenario) applyDefaults() {
	if s.WordSize == 0 {
		s.WordSize = mempool.DefaultWordSize
	}
	if s.MaxWords == 0 {
		s.MaxWords = mempool.DefaultMaxWords
	}
	if s.Strategy == "" {
		s.Strategy = "best"
	}
	if s.Source == "" {
		s.Source = sourceHeap
	}
}

// Validate reports every structural problem of the scenario. Capacities are
// left to the pool so that over-limit requests can be replayed.
func (s *Scenario) Validate() error {
	var errs []error
	if s.WordSize <= 0 {
		errs = append(errs, fmt.Errorf("invalid scenario: word_size %d must be positive", s.WordSize))
	}
	if _, err := mempool.StrategyByName(s.Strategy); err != nil {
		errs = append(errs, fmt.Errorf("invalid scenario: %w", err))
	}
	switch s.Source {
	case sourceHeap, sourceMmap, sourceRecycling:
	default:
		errs = append(errs, fmt.Errorf("invalid scenario: unknown source %q", s.Source))
	}
	for i, op := range s.Ops {
		if err := op.validate(); err != nil {
			errs = append(errs, fmt.Errorf("invalid scenario: op %d: %w", i+1, err))
		}
	}
	return errors.Join(errs...)
}

func (op Op) validate() error {
	switch op.Kind {
	case "alloc", "free":
		if op.Name == "" {
			return fmt.Errorf("%s requires a name", op.Kind)
		}
	case "strategy":
		if _, err := mempool.StrategyByName(op.Strategy); err != nil {
			return err
		}
	case "dump":
		if op.Path == "" {
			return errors.New("dump requires a path")
		}
	default:
		if !slices.Contains(opKinds, op.Kind) {
			return fmt.Errorf("unknown kind %q, expected one of %s", op.Kind, strings.Join(opKinds, ", "))
		}
	}
	return nil
}
