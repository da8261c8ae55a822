// Package wave partitions a validated dependency graph into ordered waves for
// maximal parallel dispatch.
//
// Wave 0 holds every feature with no dependencies; each later wave holds the
// remaining features whose dependencies are all in earlier waves. Within a
// wave, features keep declaration order so replays are deterministic.
package wave

import (
	"fmt"

	"github.com/fyrsmithlabs/foundry/internal/graph"
)

// Wave is an ordered set of features schedulable together.
type Wave struct {
	// Index is the wave's position: every dependency of a feature in wave N
	// lives in a wave < N.
	Index int

	// Features are the member feature names in declaration order.
	Features []string
}

// Schedule peels the graph into waves with a repeated Kahn step. The graph is
// validated acyclic before it gets here; a non-progressing iteration with
// features remaining indicates an uncaught cycle and is reported rather than
// looped on.
func Schedule(g *graph.Graph) ([]Wave, error) {
	remaining := make(map[string]bool, g.Len())
	for _, name := range g.Features() {
		remaining[name] = true
	}
	finalized := make(map[string]bool, g.Len())

	var waves []Wave
	for len(remaining) > 0 {
		var members []string
		// Iterate in declaration order for the deterministic tie-break.
		for _, name := range g.Features() {
			if !remaining[name] {
				continue
			}
			ready := true
			for _, dep := range g.Dependencies(name) {
				if !finalized[dep] {
					ready = false
					break
				}
			}
			if ready {
				members = append(members, name)
			}
		}

		if len(members) == 0 {
			stuck := make([]string, 0, len(remaining))
			for _, name := range g.Features() {
				if remaining[name] {
					stuck = append(stuck, name)
				}
			}
			return nil, fmt.Errorf("wave scheduling made no progress with %d features remaining (undetected cycle?): %v",
				len(stuck), stuck)
		}

		for _, name := range members {
			delete(remaining, name)
			finalized[name] = true
		}
		waves = append(waves, Wave{Index: len(waves), Features: members})
	}

	return waves, nil
}

// Of returns the wave index containing the named feature, or -1.
func Of(waves []Wave, feature string) int {
	for _, w := range waves {
		for _, f := range w.Features {
			if f == feature {
				return w.Index
			}
		}
	}
	return -1
}
