package geo

import "testing"

func TestHaversineKm(t *testing.T) {
	// Jakarta (-6.2, 106.816) to Bandung (-6.9175, 107.6191) ~ 115-120 km
	d := HaversineKm(-6.2, 106.816, -6.9175, 107.6191)
	if d < 100 || d > 140 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestHaversineMetersSamePoint(t *testing.T) {
	p := Point{Lat: 25.0, Lng: 121.5}
	if d := HaversineMeters(p, p); d != 0 {
		t.Fatalf("expected zero distance, got %v", d)
	}
}

func TestHaversineMetersShortHop(t *testing.T) {
	// 0.001 degree of latitude is ~111m
	d := HaversineMeters(Point{Lat: 25.0, Lng: 121.5}, Point{Lat: 25.001, Lng: 121.5})
	if d < 110 || d > 112.5 {
		t.Fatalf("unexpected distance: %v", d)
	}
}
