package domain

import (
	"fmt"
	"math"
	"sort"
)

// GapPolicy decides what happens when a date's step sequence has holes.
type GapPolicy string

const (
	// GapFail rejects the variable when any expected step is missing.
	GapFail GapPolicy = "fail"
	// GapRecord keeps the variable and reports the missing steps.
	GapRecord GapPolicy = "record"
)

// ParseGapPolicy validates a gap policy name.
func ParseGapPolicy(s string) (GapPolicy, error) {
	switch GapPolicy(s) {
	case GapFail, GapRecord:
		return GapPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown gap policy %q (want %q or %q)", s, GapFail, GapRecord)
	}
}

// AssembleVariable stacks one variable's per-step grids into a single
// (step, latitude, longitude) array. Grids may arrive in any order.
// Duplicate steps are allowed only when bitwise identical; any axis
// disagreement between steps is a ConsistencyError.
func AssembleVariable(name string, grids []*SourceGrid) (*Variable, error) {
	if len(grids) == 0 {
		return nil, &ConsistencyError{Variable: name, Step: -1, Reason: "no records"}
	}

	sorted := append([]*SourceGrid(nil), grids...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StepHours < sorted[j].StepHours
	})

	ref := sorted[0]
	kept := sorted[:0]
	for _, g := range sorted {
		if !sameAxis(g.Latitudes, ref.Latitudes) || !sameAxis(g.Longitudes, ref.Longitudes) {
			return nil, &ConsistencyError{Variable: name, Step: g.StepHours, Reason: "grid axes differ between steps"}
		}
		if len(kept) > 0 && kept[len(kept)-1].StepHours == g.StepHours {
			if !sameValues(kept[len(kept)-1].Values, g.Values) {
				return nil, &ConsistencyError{Variable: name, Step: g.StepHours, Reason: "conflicting duplicate record"}
			}
			continue
		}
		kept = append(kept, g)
	}

	size := len(ref.Latitudes) * len(ref.Longitudes)
	v := &Variable{
		Name:       name,
		Steps:      make([]int, len(kept)),
		Latitudes:  ref.Latitudes,
		Longitudes: ref.Longitudes,
		Values:     make([]float32, len(kept)*size),
	}
	for i, g := range kept {
		if len(g.Values) != size {
			return nil, &ConsistencyError{Variable: name, Step: g.StepHours, Reason: "value count does not match grid size"}
		}
		v.Steps[i] = g.StepHours
		copy(v.Values[i*size:(i+1)*size], g.Values)
	}
	return v, nil
}

// CheckStepGaps returns the cadence steps missing from the observed
// sequence. The expected sequence starts at hour 0 and ends at the highest
// observed step, so a truncated forecast horizon is not a gap but a hole
// in the middle is.
func CheckStepGaps(spec GridSpec, steps []int) []int {
	if len(steps) == 0 {
		return nil
	}
	have := make(map[int]bool, len(steps))
	max := steps[0]
	for _, h := range steps {
		have[h] = true
		if h > max {
			max = h
		}
	}
	var missing []int
	for h := 0; h <= max; h = spec.NextStep(h) {
		if !have[h] {
			missing = append(missing, h)
		}
	}
	return missing
}

// AlignSteps partitions a date's variables by their step sequences. All
// arrays in a store share one step axis, so variables whose sequence
// disagrees with the majority cannot be written alongside it. Input order
// is preserved in both return values.
func AlignSteps(vars []*Variable) (aligned []*Variable, misaligned []*Variable) {
	if len(vars) == 0 {
		return nil, nil
	}

	counts := make(map[string]int)
	for _, v := range vars {
		counts[stepSignature(v.Steps)]++
	}
	best := stepSignature(vars[0].Steps)
	for _, v := range vars {
		sig := stepSignature(v.Steps)
		if counts[sig] > counts[best] || (counts[sig] == counts[best] && len(sig) > len(best)) {
			best = sig
		}
	}

	for _, v := range vars {
		if stepSignature(v.Steps) == best {
			aligned = append(aligned, v)
		} else {
			misaligned = append(misaligned, v)
		}
	}
	return aligned, misaligned
}

func stepSignature(steps []int) string { return fmt.Sprint(steps) }

func sameAxis(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// sameValues compares bit patterns so NaN positions count as equal.
func sameValues(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Float32bits(a[i]) != math.Float32bits(b[i]) {
			return false
		}
	}
	return true
}
