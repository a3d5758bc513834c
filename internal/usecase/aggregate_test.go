package usecase

import (
	"testing"
	"time"

	"OrbWatch/internal/domain/models"
	domrepo "OrbWatch/internal/domain/repository"
)

func TestAggregateBarsRollsUpBuckets(t *testing.T) {
	base := []models.Bar{
		bar(0, 100, 101, 99, 100.5, 1000),
		bar(1, 100.5, 103, 100, 102, 1100),
		bar(2, 102, 102.5, 101, 101.5, 900),
		bar(3, 101.5, 104, 101, 103.5, 1200),
		bar(4, 103.5, 105, 103, 104, 800),
		bar(5, 104, 104.5, 102, 102.5, 700),
		bar(6, 102.5, 103, 102, 102.8, 600), // incomplete trailing bucket
	}

	got := AggregateBars(base, domrepo.Res3m)
	if len(got) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(got))
	}

	first := got[0]
	if !first.OpenTime.Equal(testOpen) {
		t.Fatalf("first open time = %v", first.OpenTime)
	}
	if first.Open != 100 || first.High != 103 || first.Low != 99 || first.Close != 101.5 {
		t.Fatalf("first bar OHLC = %v %v %v %v", first.Open, first.High, first.Low, first.Close)
	}
	if first.Volume != 3000 {
		t.Fatalf("first bar volume = %v", first.Volume)
	}

	second := got[1]
	if !second.OpenTime.Equal(testOpen.Add(3 * time.Minute)) {
		t.Fatalf("second open time = %v", second.OpenTime)
	}
	if second.Open != 101.5 || second.High != 105 || second.Low != 101 || second.Close != 102.5 {
		t.Fatalf("second bar OHLC = %v %v %v %v", second.Open, second.High, second.Low, second.Close)
	}
}

func TestAggregateBarsKeepsClockGridAcrossGap(t *testing.T) {
	// Minute 2 is missing. Buckets must stay on the clock grid: the gap
	// shrinks its own bucket instead of shifting every later boundary.
	base := []models.Bar{
		bar(0, 100, 101, 99, 100.5, 1000),
		bar(1, 100.5, 103, 100, 102, 1100),
		bar(3, 101.5, 104, 101, 103.5, 1200),
		bar(4, 103.5, 105, 103, 104, 800),
		bar(5, 104, 104.5, 102, 102.5, 700),
		bar(6, 102.5, 103, 102, 102.8, 600),
		bar(7, 102.8, 103.5, 102.2, 103, 650),
		bar(8, 103, 103.2, 101.5, 102, 500),
		bar(9, 102, 102.6, 101.8, 102.4, 550),
	}

	got := AggregateBars(base, domrepo.Res5m)
	if len(got) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(got))
	}

	first := got[0]
	if !first.OpenTime.Equal(testOpen) {
		t.Fatalf("first open time = %v", first.OpenTime)
	}
	if first.Open != 100 || first.High != 105 || first.Low != 99 || first.Close != 104 {
		t.Fatalf("first bar OHLC = %v %v %v %v", first.Open, first.High, first.Low, first.Close)
	}
	if first.Volume != 4100 {
		t.Fatalf("first bar volume = %v", first.Volume)
	}

	second := got[1]
	if !second.OpenTime.Equal(testOpen.Add(5 * time.Minute)) {
		t.Fatalf("second open time = %v", second.OpenTime)
	}
	if second.Open != 104 || second.Close != 102.4 {
		t.Fatalf("second bar O/C = %v %v", second.Open, second.Close)
	}
}

func TestAggregateBarsBaseResolutionPassthrough(t *testing.T) {
	base := []models.Bar{bar(0, 100, 101, 99, 100.5, 1000)}
	got := AggregateBars(base, domrepo.Res1m)
	if len(got) != 1 || got[0] != base[0] {
		t.Fatalf("expected passthrough, got %+v", got)
	}
}

func TestAggregateBarsShortInput(t *testing.T) {
	base := []models.Bar{
		bar(0, 100, 101, 99, 100.5, 1000),
		bar(1, 100.5, 103, 100, 102, 1100),
	}
	if got := AggregateBars(base, domrepo.Res5m); len(got) != 0 {
		t.Fatalf("expected no closed buckets, got %d", len(got))
	}
}
