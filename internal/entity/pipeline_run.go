package entity

import (
	"strings"
	"sync"
	"time"
)

// Stage is one step of the fixed processing order.
type Stage string

const (
	StageNames    Stage = "names"
	StageURLs     Stage = "urls"
	StageContacts Stage = "contacts"
	StageExport   Stage = "export"
)

// Stages lists the checkpointed stages in execution order.
var Stages = []Stage{StageNames, StageURLs, StageContacts}

// Index returns the position of s in Stages, or -1.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// SeedTarget is a directory page to extract business names from.
type SeedTarget struct {
	URL      string `json:"url"`
	Location string `json:"location,omitempty"`
}

// SeedName is a business name supplied directly, skipping name extraction.
type SeedName struct {
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

// RunSeed is the input of a pipeline run.
type RunSeed struct {
	Targets  []SeedTarget `json:"targets,omitempty"`
	Names    []SeedName   `json:"names,omitempty"`
	Location string       `json:"location,omitempty"` // default for entries without one
}

// Empty reports whether the seed has nothing to process.
func (s RunSeed) Empty() bool {
	return len(s.Targets) == 0 && len(s.Names) == 0
}

// LocationFor returns loc, or the seed-wide default when loc is empty.
func (s RunSeed) LocationFor(loc string) string {
	if loc != "" {
		return loc
	}
	return s.Location
}

// RecordSet is the ordered, name-keyed aggregate of a run. Each record is
// written by exactly one worker at a time; the lock only guards the index.
type RecordSet struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]*BusinessRecord
}

// NewRecordSet creates an empty set.
func NewRecordSet() *RecordSet {
	return &RecordSet{byName: make(map[string]*BusinessRecord)}
}

// NormalizeName trims the name; it is the key used for deduplication.
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}

// Add inserts rec unless a record with the same name exists. It reports
// whether rec was inserted.
func (s *RecordSet) Add(rec *BusinessRecord) bool {
	rec.Name = NormalizeName(rec.Name)
	if rec.Name == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[rec.Name]; ok {
		return false
	}
	s.byName[rec.Name] = rec
	s.order = append(s.order, rec.Name)
	return true
}

// Update applies fn to the named record under the write lock.
func (s *RecordSet) Update(name string, fn func(*BusinessRecord)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byName[name]
	if !ok {
		return false
	}
	fn(rec)
	return true
}

// Get returns a copy of the named record.
func (s *RecordSet) Get(name string) (BusinessRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byName[name]
	if !ok {
		return BusinessRecord{}, false
	}
	return rec.Clone(), true
}

// Select returns copies of the records matching keep, in insertion order.
func (s *RecordSet) Select(keep func(BusinessRecord) bool) []BusinessRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]BusinessRecord, 0, len(s.order))
	for _, name := range s.order {
		rec := s.byName[name]
		if keep == nil || keep(*rec) {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Snapshot returns copies of all records in insertion order.
func (s *RecordSet) Snapshot() []BusinessRecord {
	return s.Select(nil)
}

// Len returns the number of records.
func (s *RecordSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Restore merges previously checkpointed records into the set. Known records
// gain the restored website and contacts; unknown ones are appended.
func (s *RecordSet) Restore(records []BusinessRecord) {
	for _, r := range records {
		restored := r.Clone()
		if s.Add(&restored) {
			continue
		}
		s.Update(restored.Name, func(cur *BusinessRecord) {
			cur.SetWebsite(restored.Website)
			cur.Contacts.Merge(restored.Contacts)
			if restored.Status != StatusPending {
				cur.Status = restored.Status
				cur.Error = restored.Error
			}
		})
	}
}

// PipelineRun owns all records for the duration of one run.
type PipelineRun struct {
	ID        string
	Seed      RunSeed
	Records   *RecordSet
	Completed Stage // last fully completed stage, empty if none
	StartedAt time.Time
}

// NewPipelineRun creates a run with an empty record set.
func NewPipelineRun(id string, seed RunSeed) *PipelineRun {
	return &PipelineRun{
		ID:        id,
		Seed:      seed,
		Records:   NewRecordSet(),
		StartedAt: time.Now().UTC(),
	}
}

// Checkpoint is the persisted marker of a completed stage.
type Checkpoint struct {
	RunID     string           `json:"run_id"`
	Stage     Stage            `json:"stage"`
	Seed      RunSeed          `json:"seed"`
	Records   []BusinessRecord `json:"records"`
	CreatedAt time.Time        `json:"created_at"`
}

// RunReport summarises a finished or aborted run.
type RunReport struct {
	RunID           string        `json:"run_id"`
	TotalBusinesses int           `json:"total_businesses"`
	WithWebsite     int           `json:"businesses_with_urls"`
	WithContacts    int           `json:"businesses_with_contacts"`
	Resolved        int           `json:"resolved"`
	Unresolved      int           `json:"unresolved"`
	Pending         int           `json:"pending"`
	EmailsCollected int           `json:"total_emails_collected"`
	PhonesCollected int           `json:"total_phones_collected"`
	SuccessRate     string        `json:"success_rate"`
	UnresolvedNames []string      `json:"failed_businesses"`
	LastStage       Stage         `json:"last_stage"`
	Aborted         bool          `json:"aborted"`
	AbortReason     string        `json:"abort_reason,omitempty"`
	Files           []string      `json:"export_files,omitempty"`
	Duration        time.Duration `json:"duration_ns"`
	GeneratedAt     time.Time     `json:"timestamp"`
}
