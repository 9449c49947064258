package testfixtures

import (
	"testing"
	"time"
)

func TestClockDefaultsToReferenceTime(t *testing.T) {
	clock := NewClock(time.Time{})
	if !clock.Now().Equal(ReferenceTime()) {
		t.Fatalf("expected ReferenceTime, got %v", clock.Now())
	}
	if clock.Now().Location() != JST {
		t.Fatalf("expected JST reading, got %v", clock.Now().Location())
	}
}

func TestClockReadsInJST(t *testing.T) {
	clock := NewClock(time.Date(2025, time.March, 9, 23, 30, 0, 0, time.UTC))

	if got := clock.Now().Format("2006-01-02 15:04"); got != "2025-03-10 08:30" {
		t.Fatalf("expected 2025-03-10 08:30 JST, got %s", got)
	}
}

func TestClockSetWallClockAndAdvance(t *testing.T) {
	clock := NewClock(time.Time{})
	nowFn := clock.NowFunc()

	at := clock.SetWallClock(ReferenceDate().AddDays(1), "22:45")
	if got := nowFn(); !got.Equal(at) || got.Format("15:04") != "22:45" {
		t.Fatalf("expected 22:45 on the next day, got %v", got)
	}

	updated := clock.Advance(90 * time.Minute)
	if updated.Format("2006-01-02 15:04") != "2025-03-12 00:15" {
		t.Fatalf("advance across midnight returned %v", updated)
	}
	if !clock.Current().Equal(updated) {
		t.Fatalf("expected %v, got %v", updated, clock.Current())
	}
}
