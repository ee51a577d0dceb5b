package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachineRangeStringHyphenRoundTrip(t *testing.T) {
	cases := []string{
		"1-2 5-7",
		"0-9",
		"3",
		"1 3 5",
		"",
	}
	for _, s := range cases {
		r, err := ParseMachineRange(s)
		require.NoError(t, err, s)
		back, err := ParseMachineRange(r.StringHyphen())
		require.NoError(t, err, s)
		assert.Equal(t, r.Elements(), back.Elements(), "round trip for %q", s)
	}
}

func TestMachineRangeSetOps(t *testing.T) {
	a := NewMachineRange(1, 2, 3, 4)
	b := NewMachineRange(3, 4, 5, 6)

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, a.Union(b).Elements())
	assert.Equal(t, []int{3, 4}, a.Intersection(b).Elements())
	assert.Equal(t, []int{1, 2}, a.Difference(b).Elements())
	assert.Equal(t, []int{5, 6}, b.Difference(a).Elements())
}

func TestMachineRangeAdjacentMerge(t *testing.T) {
	r := NewMachineRange(1, 2, 3)
	assert.Equal(t, "1-3", r.StringHyphen())
	assert.Equal(t, "1 2 3", r.String())
}

func TestMachineRangeCardinalityAndBounds(t *testing.T) {
	r, err := ParseMachineRange("2-5 9")
	require.NoError(t, err)
	assert.Equal(t, 5, r.Cardinality())
	first, ok := r.First()
	require.True(t, ok)
	assert.Equal(t, 2, first)
	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, 9, last)
	assert.True(t, r.Contains(4))
	assert.False(t, r.Contains(6))
}

func TestParseJobID(t *testing.T) {
	id, err := ParseJobID("w1!42")
	require.NoError(t, err)
	assert.Equal(t, "w1", id.Workload)
	assert.Equal(t, 42, id.Number)

	id2, err := ParseJobID("7")
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkloadName, id2.Workload)
	assert.Equal(t, 7, id2.Number)
}
