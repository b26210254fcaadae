package kvdoc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestShapePrecedence exercises spec.md §8's builder-only property: the
// first satisfied shape in key > keys > prefix > range > scan wins,
// regardless of call order.
func TestShapePrecedence(t *testing.T) {
	tests := []struct {
		name  string
		build func(*QueryBuilder) *QueryBuilder
		want  shapeKind
	}{
		{"scan only", func(qb *QueryBuilder) *QueryBuilder { return qb }, shapeScan},
		{"range only", func(qb *QueryBuilder) *QueryBuilder {
			return qb.Range([]any{"a"}, []any{"z"})
		}, shapeRange},
		{"prefix beats range", func(qb *QueryBuilder) *QueryBuilder {
			return qb.Range([]any{"a"}, []any{"z"}).Prefix("eng")
		}, shapePrefix},
		{"keys beats prefix", func(qb *QueryBuilder) *QueryBuilder {
			return qb.Prefix("eng").Keys([]any{"a"}, []any{"b"})
		}, shapeKeys},
		{"key beats keys regardless of order", func(qb *QueryBuilder) *QueryBuilder {
			return qb.Key("x").Keys([]any{"a"}).Prefix("eng").Range([]any{"a"}, []any{"z"})
		}, shapeKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qb := tt.build(newQueryBuilder("v"))
			got := qb.GetParams()
			assert.Equal(t, tt.want, got.shape)
		})
	}
}

func TestSkipLimitClampNegative(t *testing.T) {
	qb := newQueryBuilder("v").Skip(-5).Limit(-3)
	p := qb.GetParams()
	assert.Equal(t, 0, p.skip)
	assert.Equal(t, 0, p.limit)
}

func TestDefaultLimitIsUnbounded(t *testing.T) {
	p := newQueryBuilder("v").GetParams()
	assert.Equal(t, math.MaxInt, p.limit)
}

func TestIncludeDocsAndReduceDefaultToTrue(t *testing.T) {
	p := newQueryBuilder("v").IncludeDocs().Reduce().GetParams()
	assert.True(t, p.includeDocs)
	assert.True(t, p.reduce)
}

// TestGroupDispatch mirrors spec.md §8's boundary examples exactly:
// group(Math.PI) => groupLevel=3, reduce=true; group(-1) => InvalidGroupLevel.
func TestGroupDispatch(t *testing.T) {
	p := newQueryBuilder("v").Group(math.Pi).GetParams()
	require.NotNil(t, p.groupLevel)
	assert.Equal(t, 3, *p.groupLevel)
	assert.True(t, p.reduce)

	qb := newQueryBuilder("v").Group(-1)
	assert.ErrorIs(t, qb.Err(), ErrInvalidGroupLevel)

	qb = newQueryBuilder("v").Group("nonsense")
	assert.ErrorIs(t, qb.Err(), ErrInvalidGroupLevel)
}

func TestGroupTrueSetsFullKeyLevel(t *testing.T) {
	p := newQueryBuilder("v").Group(true).GetParams()
	require.NotNil(t, p.groupLevel)
	assert.Equal(t, 0, *p.groupLevel)
	assert.True(t, p.reduce)
}

// TestGroupFalseClearsLevelKeepsReduce mirrors spec.md §8:
// group(false) after reduce(true) keeps reduce=true and clears groupLevel.
func TestGroupFalseClearsLevelKeepsReduce(t *testing.T) {
	p := newQueryBuilder("v").Reduce(true).Group(true).Group(false).GetParams()
	assert.Nil(t, p.groupLevel)
	assert.True(t, p.reduce)
}

func TestGroupZeroEnablesFullKeyGrouping(t *testing.T) {
	p := newQueryBuilder("v").Group(0).GetParams()
	require.NotNil(t, p.groupLevel)
	assert.Equal(t, 0, *p.groupLevel)
	assert.True(t, p.reduce)
}
