package mempool

import (
	"fmt"
	"slices"
	"strings"
)

// Strategy chooses the hole that satisfies an allocation of words.
// holes is a read-only snapshot in ascending offset order that must not be
// retained after Choose returns. The ok result is false if no hole fits.
type Strategy interface {
	Choose(words int, holes []Hole) (offset int, ok bool)
}

// StrategyFunc adapts an ordinary function to a Strategy.
type StrategyFunc func(words int, holes []Hole) (offset int, ok bool)

func (f StrategyFunc) Choose(words int, holes []Hole) (int, bool) {
	return f(words, holes)
}

var (
	// BestFit picks the smallest hole that fits, the lowest offset winning ties.
	BestFit Strategy = StrategyFunc(bestFit)

	// WorstFit picks the largest hole that fits, the lowest offset winning ties.
	WorstFit Strategy = StrategyFunc(worstFit)
)

var strategies = map[string]Strategy{
	"best":      BestFit,
	"best-fit":  BestFit,
	"worst":     WorstFit,
	"worst-fit": WorstFit,
}

// StrategyByName returns a built-in strategy by name, case-insensitively.
func StrategyByName(name string) (Strategy, error) {
	s, ok := strategies[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q, must be one of %v", name, StrategyNames())
	}
	return s, nil
}

// StrategyNames returns the sorted names accepted by StrategyByName.
func StrategyNames() []string {
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func bestFit(words int, holes []Hole) (int, bool) {
	best := -1
	for i, h := range holes {
		if h.Length < words {
			continue
		}
		if best < 0 || h.Length < holes[best].Length {
			best = i
		}
	}
	if best < 0 {
		return 0, false
	}
	return holes[best].Offset, true
}

func worstFit(words int, holes []Hole) (int, bool) {
	worst := -1
	for i, h := range holes {
		if h.Length < words {
			continue
		}
		if worst < 0 || h.Length > holes[worst].Length {
			worst = i
		}
	}
	if worst < 0 {
		return 0, false
	}
	return holes[worst].Offset, true
}
