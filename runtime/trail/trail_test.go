package trail

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveStrength_HalvesAtHalfLife(t *testing.T) {
	now := time.Now().UTC()
	r := Record{Strength: 1.0, CreatedAt: now.Add(-DefaultHalfLife)}
	got := r.EffectiveStrength(now, DefaultHalfLife)
	assert.InDelta(t, 0.5, got, 0.001)
}

func TestEffectiveStrength_NoDecayAtCreation(t *testing.T) {
	now := time.Now().UTC()
	r := Record{Strength: 0.8, CreatedAt: now}
	got := r.EffectiveStrength(now, DefaultHalfLife)
	assert.InDelta(t, 0.8, got, 0.001)
}

func TestExpired(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	assert.True(t, Record{ExpiresAt: &past}.Expired(now))
	assert.False(t, Record{ExpiresAt: &future}.Expired(now))
	assert.False(t, Record{}.Expired(now))
}
