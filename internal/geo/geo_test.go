package geo

import (
	"math"
	"testing"
)

func TestDistanceIdenticalCoordinates(t *testing.T) {
	loc := Location{Latitude: 41.3275, Longitude: 19.8187}
	if d := Distance(loc, loc); d != 0 {
		t.Fatalf("distance between identical coordinates = %g, want 0", d)
	}
}

func TestDistanceSymmetry(t *testing.T) {
	a := Location{Latitude: 41.3275, Longitude: 19.8187}
	b := Location{Latitude: 41.3290, Longitude: 19.8200}
	d1 := Distance(a, b)
	d2 := Distance(b, a)
	if math.Abs(d1-d2) > 1e-9 {
		t.Fatalf("distance not symmetric: %g vs %g", d1, d2)
	}
}

func TestDistanceMonotonicWithSeparation(t *testing.T) {
	anchor := Location{Latitude: 41.3275, Longitude: 19.8187}
	prev := 0.0
	for i := 1; i <= 5; i++ {
		far := Location{Latitude: anchor.Latitude + float64(i)*0.001, Longitude: anchor.Longitude}
		d := Distance(anchor, far)
		if d <= prev {
			t.Fatalf("distance not monotonic at step %d: %g <= %g", i, d, prev)
		}
		prev = d
	}
}

func TestDistanceKnownValue(t *testing.T) {
	// one degree of latitude is roughly 111.2 km
	a := Location{Latitude: 0, Longitude: 0}
	b := Location{Latitude: 1, Longitude: 0}
	d := Distance(a, b)
	if d < 110000 || d > 112500 {
		t.Fatalf("one degree latitude = %gm, want ~111200m", d)
	}
}

func TestEffectiveRadius(t *testing.T) {
	a := Location{AccuracyM: 5}
	b := Location{AccuracyM: 5}
	if r := EffectiveRadius(50, a, b); r != 60 {
		t.Fatalf("effective radius = %g, want 60", r)
	}
}

func TestWithin(t *testing.T) {
	anchor := Location{Latitude: 0, Longitude: 0, AccuracyM: 5}
	tests := []struct {
		name    string
		offsetM float64
		want    bool
	}{
		{name: "inside", offsetM: 40, want: true},
		{name: "on effective edge", offsetM: 59, want: true},
		{name: "outside", offsetM: 75, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// move north by offsetM meters
			claimed := Location{Latitude: tt.offsetM / 111194.9, Longitude: 0, AccuracyM: 5}
			if got := Within(50, claimed, anchor); got != tt.want {
				t.Errorf("Within(50, %gm away) = %v, want %v", tt.offsetM, got, tt.want)
			}
		})
	}
}
