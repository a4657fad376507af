package geo

import (
	"math"
	"testing"
)

func TestHaversineMeters_ZeroDistance(t *testing.T) {
	d := HaversineMeters(51.1694, 71.4491, 51.1694, 71.4491)
	if d != 0 {
		t.Fatalf("distance between identical points must be 0, got %f", d)
	}
}

func TestHaversineMeters_KnownDistance(t *testing.T) {
	// Примерно 1 градус широты ~ 111.19 km
	d := HaversineMeters(51.0, 71.0, 52.0, 71.0)
	if math.Abs(d-111195) > 100 {
		t.Fatalf("one degree of latitude should be ~111195m, got %f", d)
	}
}

func TestHaversineMeters_SmallStep(t *testing.T) {
	// ~5.5m north of the starting point
	d := HaversineMeters(51.169400, 71.449100, 51.169450, 71.449100)
	if d < 5 || d > 6 {
		t.Fatalf("expected ~5.5m, got %f", d)
	}
}

func TestInitialBearing(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
	}{
		{"due north", 51.0, 71.0, 52.0, 71.0, 0},
		{"due south", 52.0, 71.0, 51.0, 71.0, 180},
		{"due east on equator", 0, 10, 0, 11, 90},
		{"due west on equator", 0, 11, 0, 10, 270},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InitialBearing(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > 0.5 {
				t.Fatalf("bearing: got %f want %f", got, tt.want)
			}
		})
	}
}

func TestInitialBearing_Normalized(t *testing.T) {
	got := InitialBearing(51.0, 71.0, 51.5, 70.0)
	if got < 0 || got >= 360 {
		t.Fatalf("bearing must be normalized to [0,360), got %f", got)
	}
}
