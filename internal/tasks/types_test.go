package tasks

import (
	"testing"
	"time"
)

func TestScheduleRoundTrip(t *testing.T) {
	cases := []Schedule{
		{Kind: ScheduleCron, Cron: "0 9 * * *"},
		{Kind: ScheduleInterval, Interval: 45 * time.Second},
		{Kind: ScheduleOnce, Once: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	for _, sched := range cases {
		value := sched.ScheduleValue()
		got, err := ParseSchedule(sched.Kind, value)
		if err != nil {
			t.Fatalf("ParseSchedule(%v): %v", sched, err)
		}
		if got != sched {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, sched)
		}
	}
}

func TestScheduleNextFireCron(t *testing.T) {
	sched := Schedule{Kind: ScheduleCron, Cron: "0 9 * * *"}
	at := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	next, err := sched.NextFire(at)
	if err != nil {
		t.Fatalf("NextFire: %v", err)
	}
	want := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("NextFire = %v, want %v", next, want)
	}
}

func TestScheduleValidateRejectsZeroInterval(t *testing.T) {
	sched := Schedule{Kind: ScheduleInterval, Interval: 0}
	if err := sched.Validate(); err == nil {
		t.Fatal("expected zero interval to be rejected")
	}
}

func TestScheduleOnceNextFireInPast(t *testing.T) {
	sched := Schedule{Kind: ScheduleOnce, Once: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
	next, err := sched.NextFire(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NextFire: %v", err)
	}
	if !next.IsZero() {
		t.Fatalf("expected zero time for exhausted once schedule, got %v", next)
	}
}

func TestArmedNonRepeatingCompletedTask(t *testing.T) {
	task := &ScheduledTask{Enabled: true, Repeat: false, LastStatus: StatusSucceeded}
	if task.Armed() {
		t.Fatal("a completed non-repeating task must not be armed (spec §3 invariant)")
	}
	task.LastStatus = StatusFailed
	if !task.Armed() {
		t.Fatal("a failed non-repeating task may still be armed for a later manual retry")
	}
}
