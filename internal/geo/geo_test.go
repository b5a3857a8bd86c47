package geo

import "testing"

func TestDistanceSamePointIsZero(t *testing.T) {
	p := Position{Lat: 1.5, Lon: -2.5}
	if d := Distance(p, p); d != 0 {
		t.Fatalf("expected zero distance for identical points, got %v", d)
	}
}

func TestDistancePythagorean(t *testing.T) {
	a := Position{Lat: 0, Lon: 0}
	b := Position{Lat: 3, Lon: 4}
	if d := Distance(a, b); d != 5 {
		t.Fatalf("expected 3-4-5 triangle distance of 5, got %v", d)
	}
}

func TestDistanceIsSymmetric(t *testing.T) {
	a := Position{Lat: 1, Lon: 2}
	b := Position{Lat: 5, Lon: -3}
	if Distance(a, b) != Distance(b, a) {
		t.Fatal("expected distance to be symmetric")
	}
}
