package history

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/nvandessel/sweepsim/internal/models"
	"github.com/nvandessel/sweepsim/internal/results"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSnapshot() results.Snapshot {
	ok := models.NewTelemetry()
	ok.SimSuccess = true
	ok.SetKillTime(4)
	ok.XPPerSecond["attack"] = 12

	return results.Snapshot{
		Encounters: []results.Entry{
			{ID: models.Plain("cow"), Status: models.StatusSuccess, Included: true, Telemetry: ok},
			{ID: models.Composite("camp", "chief"), Status: models.StatusFailed, Included: false, Telemetry: models.Failed(models.ReasonFiltered)},
		},
		Groups: []results.GroupEntry{
			{ID: "camp", Included: true, Telemetry: models.Failed(models.ReasonFiltered)},
		},
	}
}

func TestRecordAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, "sweep-1", "all", testSnapshot()); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	list, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("List() returned %d, want 1", len(list))
	}
	sum := list[0]
	if sum.SweepID != "sweep-1" || sum.Scope != "all" || sum.Encounters != 2 || sum.Groups != 1 || sum.Succeeded != 1 {
		t.Errorf("summary = %+v", sum)
	}

	rec, err := s.Get(ctx, sum.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(rec.Snapshot.Encounters) != 2 || len(rec.Snapshot.Groups) != 1 {
		t.Fatalf("snapshot = %+v", rec.Snapshot)
	}
	cow := rec.Snapshot.Encounters[0]
	if cow.ID != models.Plain("cow") || cow.Status != models.StatusSuccess || !cow.Included {
		t.Errorf("cow = %+v", cow)
	}
	if cow.Telemetry.KillTimeSeconds != 4 || cow.Telemetry.XPPerSecond["attack"] != 12 {
		t.Errorf("cow telemetry = %+v", cow.Telemetry)
	}
	if !math.IsNaN(cow.Telemetry.GPPerSecond) {
		t.Errorf("GPPerSecond = %v, want NaN to survive storage", cow.Telemetry.GPPerSecond)
	}
	chief := rec.Snapshot.Encounters[1]
	if chief.ID != models.Composite("camp", "chief") || chief.Included {
		t.Errorf("chief = %+v", chief)
	}
	if rec.Snapshot.Groups[0].Telemetry.Reason != models.ReasonFiltered {
		t.Errorf("group reason = %q", rec.Snapshot.Groups[0].Telemetry.Reason)
	}
}

func TestList_NewestFirstWithLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		s.nowFunc = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		if err := s.Record(ctx, id, "all", results.Snapshot{}); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].SweepID != "c" || list[1].SweepID != "b" {
		t.Errorf("List(2) = %+v", list)
	}
	if !list[0].RecordedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("RecordedAt = %v", list[0].RecordedAt)
	}
	if n, _ := s.Count(ctx); n != 3 {
		t.Errorf("Count() = %d, want 3", n)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	s := newTestStore(t)
	if err := InitSchema(context.Background(), s.db); err != nil {
		t.Errorf("second InitSchema() error = %v", err)
	}
}
