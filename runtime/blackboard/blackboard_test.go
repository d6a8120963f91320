package blackboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate_FailsIfExists(t *testing.T) {
	dir := t.TempDir()
	_, err := Create(dir, "run-1")
	require.NoError(t, err)
	_, err = Create(dir, "run-1")
	assert.Error(t, err)
}

func TestRegisterAgent_IdempotentByID(t *testing.T) {
	dir := t.TempDir()
	b, err := Create(dir, "run-2")
	require.NoError(t, err)

	require.NoError(t, b.RegisterAgent("agent-a", "review files", []string{"go"}))
	require.NoError(t, b.RegisterAgent("agent-a", "review files", []string{"go"}))

	snap, err := b.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snap.Agents, 1)
}

func TestAddFinding_AppendOnly(t *testing.T) {
	dir := t.TempDir()
	b, err := Create(dir, "run-3")
	require.NoError(t, err)
	require.NoError(t, b.RegisterAgent("agent-a", "t", nil))

	require.NoError(t, b.AddFinding("agent-a", "fact", "found x", nil, "medium", nil))
	require.NoError(t, b.AddFinding("agent-a", "fact", "found y", nil, "medium", nil))

	snap, err := b.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Findings, 2)
	assert.Equal(t, "found x", snap.Findings[0].Content)
	assert.Equal(t, "found y", snap.Findings[1].Content)
}

func TestReadDelta_AdvancesCursor(t *testing.T) {
	dir := t.TempDir()
	b, err := Create(dir, "run-4")
	require.NoError(t, err)
	require.NoError(t, b.RegisterAgent("agent-a", "t", nil))
	require.NoError(t, b.AddFinding("agent-a", "fact", "one", nil, "low", nil))

	delta, err := b.ReadDelta("agent-a")
	require.NoError(t, err)
	assert.Len(t, delta, 1)

	delta, err = b.ReadDelta("agent-a")
	require.NoError(t, err)
	assert.Empty(t, delta)
}

func TestClaimChain_BlocksOverlap(t *testing.T) {
	dir := t.TempDir()
	b, err := Create(dir, "run-5")
	require.NoError(t, err)
	require.NoError(t, b.RegisterAgent("agent-a", "t", nil))
	require.NoError(t, b.RegisterAgent("agent-b", "t", nil))

	res1, err := b.ClaimChain("agent-a", []string{"main.go"}, "editing", time.Minute)
	require.NoError(t, err)
	assert.False(t, res1.Blocked)
	assert.NotEmpty(t, res1.ChainID)

	res2, err := b.ClaimChain("agent-b", []string{"main.go", "other.go"}, "editing too", time.Minute)
	require.NoError(t, err)
	assert.True(t, res2.Blocked)
	require.Len(t, res2.Conflicts, 1)
}

func TestClaimChain_ReleaseAllowsReclaim(t *testing.T) {
	dir := t.TempDir()
	b, err := Create(dir, "run-6")
	require.NoError(t, err)
	require.NoError(t, b.RegisterAgent("agent-a", "t", nil))
	require.NoError(t, b.RegisterAgent("agent-b", "t", nil))

	res1, err := b.ClaimChain("agent-a", []string{"main.go"}, "editing", time.Minute)
	require.NoError(t, err)
	require.NoError(t, b.ReleaseChain("agent-a", res1.ChainID))

	res2, err := b.ClaimChain("agent-b", []string{"main.go"}, "editing now", time.Minute)
	require.NoError(t, err)
	assert.False(t, res2.Blocked)
}

func TestClaimChain_ExpiresLazily(t *testing.T) {
	dir := t.TempDir()
	b, err := Create(dir, "run-7")
	require.NoError(t, err)
	require.NoError(t, b.RegisterAgent("agent-a", "t", nil))
	require.NoError(t, b.RegisterAgent("agent-b", "t", nil))

	_, err = b.ClaimChain("agent-a", []string{"main.go"}, "editing", time.Millisecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	res2, err := b.ClaimChain("agent-b", []string{"main.go"}, "editing now", time.Minute)
	require.NoError(t, err)
	assert.False(t, res2.Blocked)
}
