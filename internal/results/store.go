// Package results holds the session's result tables: the latest telemetry
// per encounter, derived group records, filter flags and per-entry status.
package results

import (
	"slices"
	"strings"
	"sync"

	"github.com/nvandessel/sweepsim/internal/models"
)

// Entry is the state of one encounter.
type Entry struct {
	ID        models.EncounterID `json:"id"`
	Status    models.Status      `json:"status"`
	Included  bool               `json:"included"`
	Telemetry models.Telemetry   `json:"telemetry"`
}

// GroupEntry is the derived record of one instance or task-set.
type GroupEntry struct {
	ID        string           `json:"id"`
	Included  bool             `json:"included"`
	Telemetry models.Telemetry `json:"telemetry"`
}

// Snapshot is a deep copy of the store, ordered by ID.
type Snapshot struct {
	Encounters []Entry      `json:"encounters"`
	Groups     []GroupEntry `json:"groups"`
}

type record struct {
	status models.Status
	tel    models.Telemetry
}

// Store is the only mutable structure shared between sweep workers.
// Each queued encounter is written by exactly one job; the lock guards
// the maps themselves.
type Store struct {
	mu sync.RWMutex

	entries map[models.EncounterID]record
	groups  map[string]models.Telemetry

	// Filters hold exclusions only; absent means included.
	excludedEncounters map[models.EncounterID]bool
	excludedGroups     map[string]bool
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		entries:            make(map[models.EncounterID]record),
		groups:             make(map[string]models.Telemetry),
		excludedEncounters: make(map[models.EncounterID]bool),
		excludedGroups:     make(map[string]bool),
	}
}

// Prior is the pre-sweep state of an entry, used to restore it when a
// queued job is never dispatched.
type Prior struct {
	existed bool
	rec     record
}

// MarkQueued moves id to queued. It returns false if id is already queued,
// in which case the caller must not enqueue a second job for it.
func (s *Store) MarkQueued(id models.EncounterID) (Prior, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entries[id]
	if ok && rec.status == models.StatusQueued {
		return Prior{}, false
	}
	s.entries[id] = record{status: models.StatusQueued, tel: models.NewTelemetry()}
	return Prior{existed: ok, rec: rec}, true
}

// Commit stores a finished job's telemetry.
func (s *Store) Commit(id models.EncounterID, t models.Telemetry) {
	status := models.StatusFailed
	if t.SimSuccess {
		status = models.StatusSuccess
	}
	s.mu.Lock()
	s.entries[id] = record{status: status, tel: t.Clone()}
	s.mu.Unlock()
}

// Discard records that a dispatched job's result was dropped because its
// sweep was cancelled.
func (s *Store) Discard(id models.EncounterID) {
	s.mu.Lock()
	s.entries[id] = record{status: models.StatusNotRun, tel: models.Failed(models.ReasonCancelled)}
	s.mu.Unlock()
}

// Restore puts back the pre-sweep state of a job that never ran.
func (s *Store) Restore(id models.EncounterID, p Prior) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !p.existed {
		delete(s.entries, id)
		return
	}
	s.entries[id] = p.rec
}

// Entry returns the state of one encounter.
func (s *Store) Entry(id models.EncounterID) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return s.entryLocked(id, rec), true
}

func (s *Store) entryLocked(id models.EncounterID, rec record) Entry {
	return Entry{
		ID:        id,
		Status:    rec.status,
		Included:  !s.excludedEncounters[id],
		Telemetry: rec.tel.Clone(),
	}
}

// Status returns the status of id, StatusNotRun when unknown.
func (s *Store) Status(id models.EncounterID) models.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.entries[id]; ok {
		return rec.status
	}
	return models.StatusNotRun
}

// Settled returns the record the aggregator should see for each of ids.
// Filtered encounters and encounters without a finished result come back
// as failed records carrying the reason. It reports false, and nothing
// else, when any included id is still queued: a group must not be derived
// while one of its members has a job outstanding.
func (s *Store) Settled(ids []models.EncounterID) (map[models.EncounterID]models.Telemetry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[models.EncounterID]models.Telemetry, len(ids))
	for _, id := range ids {
		if s.excludedEncounters[id] {
			out[id] = models.Failed(models.ReasonFiltered)
			continue
		}
		rec, ok := s.entries[id]
		switch {
		case !ok:
			out[id] = models.Failed(models.ReasonNotRun)
		case rec.status == models.StatusQueued:
			return nil, false
		case rec.status == models.StatusNotRun && rec.tel.Reason == "":
			out[id] = models.Failed(models.ReasonNotRun)
		default:
			out[id] = rec.tel.Clone()
		}
	}
	return out, true
}

// SetGroup stores a derived group record.
func (s *Store) SetGroup(id string, t models.Telemetry) {
	s.mu.Lock()
	s.groups[id] = t.Clone()
	s.mu.Unlock()
}

// Group returns a derived group record.
func (s *Store) Group(id string) (models.Telemetry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.groups[id]
	if !ok {
		return models.Telemetry{}, false
	}
	return t.Clone(), true
}

// SetEncounterFilter sets the include flag of one encounter.
func (s *Store) SetEncounterFilter(id models.EncounterID, included bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if included {
		delete(s.excludedEncounters, id)
		return
	}
	s.excludedEncounters[id] = true
}

// SetGroupFilter sets the include flag of one instance or task-set.
func (s *Store) SetGroupFilter(id string, included bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if included {
		delete(s.excludedGroups, id)
		return
	}
	s.excludedGroups[id] = true
}

// EncounterIncluded reports the include flag of an encounter.
func (s *Store) EncounterIncluded(id models.EncounterID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.excludedEncounters[id]
}

// GroupIncluded reports the include flag of a group.
func (s *Store) GroupIncluded(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.excludedGroups[id]
}

// Snapshot returns a deep copy of every entry and group record.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Encounters: make([]Entry, 0, len(s.entries)),
		Groups:     make([]GroupEntry, 0, len(s.groups)),
	}
	for id, rec := range s.entries {
		snap.Encounters = append(snap.Encounters, s.entryLocked(id, rec))
	}
	for id, t := range s.groups {
		snap.Groups = append(snap.Groups, GroupEntry{ID: id, Included: !s.excludedGroups[id], Telemetry: t.Clone()})
	}
	slices.SortFunc(snap.Encounters, func(a, b Entry) int { return models.CompareIDs(a.ID, b.ID) })
	slices.SortFunc(snap.Groups, func(a, b GroupEntry) int { return strings.Compare(a.ID, b.ID) })
	return snap
}

// Counts tallies entries per status.
func (s Snapshot) Counts() map[models.Status]int {
	out := make(map[models.Status]int)
	for _, e := range s.Encounters {
		out[e.Status]++
	}
	return out
}
