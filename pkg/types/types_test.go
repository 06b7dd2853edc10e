package types

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidShortID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{
			name: "simple id",
			id:   "megabuilding-h10",
			want: true,
		},
		{
			name: "underscores and digits",
			id:   "q101_the_rescue",
			want: true,
		},
		{
			name: "empty",
			id:   "",
			want: false,
		},
		{
			name: "spaces",
			id:   "not valid",
			want: false,
		},
		{
			name: "too long",
			id:   strings.Repeat("a", 65),
			want: false,
		},
		{
			name: "exactly 64 characters",
			id:   strings.Repeat("a", 64),
			want: true,
		},
		{
			name: "punctuation",
			id:   "bad.id",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidShortID(tt.id))
		})
	}
}

func TestVec3_InWorldBounds(t *testing.T) {
	nan := float32(math.NaN())
	tests := []struct {
		name string
		v    Vec3
		want bool
	}{
		{
			name: "origin",
			v:    Vec3{},
			want: true,
		},
		{
			name: "at the bound",
			v:    Vec3{X: WorldBound, Y: -WorldBound, Z: WorldBound},
			want: true,
		},
		{
			name: "past the bound",
			v:    Vec3{X: WorldBound + 1},
			want: false,
		},
		{
			name: "not a number",
			v:    Vec3{X: nan},
			want: false,
		},
		{
			name: "infinite",
			v:    Vec3{Y: float32(math.Inf(1))},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.v.InWorldBounds())
		})
	}
}

func TestVec3_DistanceTo(t *testing.T) {
	a := Vec3{X: 0, Y: 0, Z: 0}
	b := Vec3{X: 3, Y: 4, Z: 0}
	assert.InDelta(t, 5.0, float64(a.DistanceTo(b)), 1e-6)
	assert.InDelta(t, 25.0, float64(a.DistanceSq2D(b)), 1e-6)
}

func TestQualityFromPing(t *testing.T) {
	tests := []struct {
		name   string
		pingMs float64
		loss   float64
		want   ConnectionQuality
	}{
		{
			name:   "low ping",
			pingMs: 30,
			want:   QualityExcellent,
		},
		{
			name:   "moderate ping",
			pingMs: 80,
			want:   QualityGood,
		},
		{
			name:   "high ping",
			pingMs: 150,
			want:   QualityFair,
		},
		{
			name:   "very high ping",
			pingMs: 250,
			want:   QualityPoor,
		},
		{
			name:   "low ping but lossy",
			pingMs: 30,
			loss:   0.2,
			want:   QualityPoor,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, QualityFromPing(tt.pingMs, tt.loss))
		})
	}
}

func TestErrorHelpers(t *testing.T) {
	assert.True(t, IsValidationFailed(&ErrValidationFailed{Reason: "x"}))
	assert.False(t, IsValidationFailed(&ErrConflict{Reason: "x"}))
	assert.True(t, IsNotFound(&ErrNotFound{Kind: "peer"}))
	assert.True(t, IsConflict(&ErrConflict{Reason: "x"}))
	assert.True(t, IsCapacityExceeded(&ErrCapacityExceeded{Resource: "x"}))
	assert.True(t, IsRateLimited(&ErrRateLimited{Reason: "x"}))
	assert.Equal(t, "peer p1 not found", (&ErrNotFound{Kind: "peer", ID: "p1"}).Error())
	assert.Equal(t, "peer not found", (&ErrNotFound{Kind: "peer"}).Error())
}
