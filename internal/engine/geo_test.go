package engine

import (
	"math"
	"math/rand"
	"testing"

	"mfcnet/internal/model"
)

func TestDistanceSymmetricAndZero(t *testing.T) {
	a := model.GeoPoint{Lat: 10.7769, Lng: 106.7009}
	b := model.GeoPoint{Lat: 10.8231, Lng: 106.6297}
	if d := Distance(a, a); d != 0 {
		t.Fatalf("distance(a,a) = %v, want 0", d)
	}
	if ab, ba := Distance(a, b), Distance(b, a); math.Abs(ab-ba) > 1e-12 {
		t.Fatalf("asymmetric distance: %v vs %v", ab, ba)
	}
}

func TestDistanceKnownValue(t *testing.T) {
	// one degree of latitude is roughly 111.2 km on a 6371 km sphere
	a := model.GeoPoint{Lat: 10, Lng: 106}
	b := model.GeoPoint{Lat: 11, Lng: 106}
	d := Distance(a, b)
	if d < 110 || d > 112.5 {
		t.Fatalf("1 degree latitude = %v km, want ~111.2", d)
	}
}

func TestTravelTimeBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 100; i++ {
		// 25 km by motorbike is 60 base minutes before traffic
		m := TravelTime(rng, 25, "motorbike")
		if m < 72 || m > 90 {
			t.Fatalf("travel time %v outside [72,90] (traffic factor bounds)", m)
		}
	}
}

func TestTravelTimeVehicleClasses(t *testing.T) {
	r1 := rand.New(rand.NewSource(7))
	r2 := rand.New(rand.NewSource(7))
	bike := TravelTime(r1, 10, "motorbike")
	car := TravelTime(r2, 10, "car")
	if car <= bike {
		t.Fatalf("car (20 km/h) should be slower than motorbike (25 km/h): %v vs %v", car, bike)
	}
}

func TestTravelTimeReproducible(t *testing.T) {
	a := TravelTime(rand.New(rand.NewSource(99)), 12.5, "car")
	b := TravelTime(rand.New(rand.NewSource(99)), 12.5, "car")
	if a != b {
		t.Fatalf("same seed gave %v and %v", a, b)
	}
}
