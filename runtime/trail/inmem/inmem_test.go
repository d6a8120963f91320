package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobctl/jobctl/runtime/trail"
)

func TestStore_AppendAndQuery_FiltersByLocationAndScent(t *testing.T) {
	s := New()
	now := time.Now().UTC()
	require.NoError(t, s.Append(context.Background(), trail.Record{Location: "main.go", Scent: trail.ScentHot, Strength: 1, CreatedAt: now}))
	require.NoError(t, s.Append(context.Background(), trail.Record{Location: "other.go", Scent: trail.ScentCold, Strength: 1, CreatedAt: now}))

	results, err := s.Query(context.Background(), trail.Query{Location: "main.go"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "main.go", results[0].Record.Location)
}

func TestStore_Query_ExcludesExpired(t *testing.T) {
	s := New()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	require.NoError(t, s.Append(context.Background(), trail.Record{Location: "x", Strength: 1, CreatedAt: now.Add(-time.Hour), ExpiresAt: &past}))

	results, err := s.Query(context.Background(), trail.Query{Location: "x"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStore_Query_ScoresByDecay(t *testing.T) {
	s := New()
	now := time.Now().UTC()
	require.NoError(t, s.Append(context.Background(), trail.Record{Location: "x", Strength: 1, CreatedAt: now.Add(-trail.DefaultHalfLife)}))

	results, err := s.Query(context.Background(), trail.Query{Location: "x"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.5, results[0].Strength, 0.01)
}
