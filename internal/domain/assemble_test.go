package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stepGrid(step int, values []float32) *SourceGrid {
	return &SourceGrid{
		Name:       "swh",
		StepHours:  step,
		Latitudes:  []float64{-10, 0},
		Longitudes: []float64{0, 10},
		Values:     values,
	}
}

func TestAssembleVariable(t *testing.T) {
	t.Run("stacks steps in ascending order", func(t *testing.T) {
		grids := []*SourceGrid{
			stepGrid(3, []float32{30, 31, 32, 33}),
			stepGrid(0, []float32{0, 1, 2, 3}),
			stepGrid(1, []float32{10, 11, 12, 13}),
		}

		v, err := AssembleVariable("swh", grids)

		require.NoError(t, err)
		assert.Equal(t, "swh", v.Name)
		assert.Equal(t, []int{0, 1, 3}, v.Steps)
		assert.Equal(t, []float32{0, 1, 2, 3}, v.StepSlice(0))
		assert.Equal(t, []float32{30, 31, 32, 33}, v.StepSlice(2))
	})

	t.Run("identical duplicate steps collapse", func(t *testing.T) {
		nan := float32(math.NaN())
		grids := []*SourceGrid{
			stepGrid(0, []float32{nan, 1, 2, 3}),
			stepGrid(0, []float32{nan, 1, 2, 3}),
		}

		v, err := AssembleVariable("swh", grids)

		require.NoError(t, err)
		assert.Equal(t, []int{0}, v.Steps)
		assert.True(t, math.IsNaN(float64(v.Values[0])))
	})

	t.Run("conflicting duplicate steps fail", func(t *testing.T) {
		grids := []*SourceGrid{
			stepGrid(6, []float32{0, 1, 2, 3}),
			stepGrid(6, []float32{0, 1, 2, 4}),
		}

		_, err := AssembleVariable("swh", grids)

		var cerr *ConsistencyError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "swh", cerr.Variable)
		assert.Equal(t, 6, cerr.Step)
	})

	t.Run("axis mismatch between steps fails", func(t *testing.T) {
		odd := stepGrid(1, []float32{0, 1, 2, 3})
		odd.Latitudes = []float64{-20, 0}
		grids := []*SourceGrid{stepGrid(0, []float32{0, 1, 2, 3}), odd}

		_, err := AssembleVariable("swh", grids)

		var cerr *ConsistencyError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, 1, cerr.Step)
	})

	t.Run("no records fails", func(t *testing.T) {
		_, err := AssembleVariable("swh", nil)

		var cerr *ConsistencyError
		assert.True(t, errors.As(err, &cerr))
	})
}

func TestCheckStepGaps(t *testing.T) {
	tests := []struct {
		name  string
		steps []int
		want  []int
	}{
		{"complete hourly run", []int{0, 1, 2, 3, 4, 5}, nil},
		{"hole in the middle", []int{0, 1, 3, 4}, []int{2}},
		{"missing first step", []int{1, 2, 3}, []int{0}},
		{"truncated horizon is fine", []int{0, 1, 2}, nil},
		{"empty", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckStepGaps(GFSWaveQuarterDegree, tt.steps)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("hole in coarse cadence", func(t *testing.T) {
		var steps []int
		for h := 0; h <= 120; h++ {
			steps = append(steps, h)
		}
		steps = append(steps, 126)

		assert.Equal(t, []int{123}, CheckStepGaps(GFSWaveQuarterDegree, steps))
	})
}

func TestParseGapPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    GapPolicy
		wantErr bool
	}{
		{"fail", GapFail, false},
		{"record", GapRecord, false},
		{"ignore", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run("policy "+tt.in, func(t *testing.T) {
			got, err := ParseGapPolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func stepsVar(name string, steps []int) *Variable {
	return &Variable{Name: name, Steps: steps}
}

func TestAlignSteps(t *testing.T) {
	t.Run("majority wins", func(t *testing.T) {
		vars := []*Variable{
			stepsVar("swh", []int{0, 1, 2}),
			stepsVar("ws", []int{0, 1, 2}),
			stepsVar("perpw", []int{0, 2}),
			stepsVar("wdir", []int{0, 1, 2}),
		}

		aligned, misaligned := AlignSteps(vars)

		require.Len(t, aligned, 3)
		require.Len(t, misaligned, 1)
		assert.Equal(t, "swh", aligned[0].Name)
		assert.Equal(t, "wdir", aligned[2].Name)
		assert.Equal(t, "perpw", misaligned[0].Name)
	})

	t.Run("all agree", func(t *testing.T) {
		vars := []*Variable{
			stepsVar("swh", []int{0, 1}),
			stepsVar("ws", []int{0, 1}),
		}

		aligned, misaligned := AlignSteps(vars)

		assert.Len(t, aligned, 2)
		assert.Nil(t, misaligned)
	})

	t.Run("tie prefers longer sequence", func(t *testing.T) {
		vars := []*Variable{
			stepsVar("swh", []int{0}),
			stepsVar("ws", []int{0, 1, 2}),
		}

		aligned, misaligned := AlignSteps(vars)

		require.Len(t, aligned, 1)
		assert.Equal(t, "ws", aligned[0].Name)
		require.Len(t, misaligned, 1)
		assert.Equal(t, "swh", misaligned[0].Name)
	})

	t.Run("empty input", func(t *testing.T) {
		aligned, misaligned := AlignSteps(nil)
		assert.Nil(t, aligned)
		assert.Nil(t, misaligned)
	})
}
