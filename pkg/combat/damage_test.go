package combat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilter_Apply(t *testing.T) {
	filter := NewFilter(nil)

	tests := []struct {
		name string
		hit  Hit
		want float64
	}{
		{
			name: "invulnerable target takes nothing",
			hit:  Hit{RawDamage: 100, Invulnerable: true},
			want: 0,
		},
		{
			name: "armor subtracts flat",
			hit:  Hit{RawDamage: 100, Armor: 30},
			want: 70,
		},
		{
			name: "armor floors at zero",
			hit:  Hit{RawDamage: 20, Armor: 50},
			want: 0,
		},
		{
			name: "critical multiplies by 1.5",
			hit:  Hit{RawDamage: 100, Critical: true},
			want: 150,
		},
		{
			name: "headshot doubles",
			hit:  Hit{RawDamage: 100, Headshot: true},
			want: 200,
		},
		{
			name: "critical headshot stacks",
			hit:  Hit{RawDamage: 100, Critical: true, Headshot: true},
			want: 300,
		},
		{
			name: "explosive bonus",
			hit:  Hit{RawDamage: 100, Kind: DamageExplosive},
			want: 120,
		},
		{
			name: "electrical penalty",
			hit:  Hit{RawDamage: 100, Kind: DamageElectrical},
			want: 90,
		},
		{
			name: "armor applies before multipliers",
			hit:  Hit{RawDamage: 100, Armor: 50, Critical: true},
			want: 75,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, filter.Apply(tt.hit))
		})
	}
}

func TestFilter_CustomCurve(t *testing.T) {
	half := func(raw, armor float64) float64 { return raw / 2 }
	filter := NewFilter(half)
	assert.Equal(t, 50.0, filter.Apply(Hit{RawDamage: 100, Armor: 9999}))
}
