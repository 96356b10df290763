package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"scenariocore/pkg/domain"
)

// Session owns the optimistic editing state for one (project, scenario)
// identity: the baseline document, the pending-change ledger, and the set of
// buildings whose schedules have been lazily fetched.
//
// All mutations are synchronous copy-on-write transformations: an operation
// builds a candidate document sharing untouched tables with the current one,
// evaluates the validation rules against the candidate, and commits by
// swapping the document and ledger only when no blocking violation is found.
// A rejected or failed operation leaves the session exactly as it was.
type Session struct {
	mu      sync.Mutex
	key     domain.SessionKey
	schema  domain.Schema
	engine  *domain.RulesEngine
	doc     domain.ScenarioDocument
	ledger  domain.Ledger
	fetched map[string]struct{}
	busy    bool
	closed  bool
	nowFn   func() time.Time
}

// NewSession constructs a session around a freshly fetched baseline.
func NewSession(key domain.SessionKey, doc domain.ScenarioDocument, schema domain.Schema, engine *domain.RulesEngine) *Session {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Session{
		key:     key,
		schema:  schema,
		engine:  engine,
		doc:     doc,
		fetched: make(map[string]struct{}),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
	for id := range doc.Schedules {
		s.fetched[id] = struct{}{}
	}
	return s
}

// Key returns the session identity.
func (s *Session) Key() domain.SessionKey { return s.key }

// Dirty reports whether uncommitted changes are pending. The navigation
// guard consults this before allowing the editing context to be left.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.ledger.Empty()
}

// Document returns a deep copy of the current optimistic document.
func (s *Session) Document() domain.ScenarioDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// Changes returns the flat ordered list of pending change records.
func (s *Session) Changes() []domain.ChangeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Records()
}

// GroupedChanges returns the per-table update/delete presentation.
func (s *Session) GroupedChanges() domain.GroupedChanges {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Grouped()
}

// FetchedSchedules returns the ids whose schedules were fetched, sorted.
func (s *Session) FetchedSchedules() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.fetched))
	for id := range s.fetched {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ScheduleFetched reports whether a building's schedule is already cached.
func (s *Session) ScheduleFetched(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.fetched[id]
	return ok
}

// attachSchedule caches a lazily fetched schedule sub-document. The baseline
// map is replaced, not mutated, preserving copy-on-write semantics.
func (s *Session) attachSchedule(id string, sched domain.Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	schedules := make(map[string]domain.Schedule, len(s.doc.Schedules)+1)
	for k, v := range s.doc.Schedules {
		schedules[k] = v
	}
	schedules[id] = sched
	doc := s.doc
	doc.Schedules = schedules
	s.doc = doc
	s.fetched[id] = struct{}{}
}

// savePayload assembles the full-replace save body: the optimistic document
// restricted to schedules that were actually fetched.
func (s *Session) savePayload() domain.ScenarioDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.doc.Clone()
	for id := range doc.Schedules {
		if _, ok := s.fetched[id]; !ok {
			delete(doc.Schedules, id)
		}
	}
	return doc
}

// resetTo replaces the baseline after a successful save or resync and clears
// the ledger. Schedules not present in the fresh document are refetched
// lazily on next use.
func (s *Session) resetTo(doc domain.ScenarioDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
	s.ledger = domain.Ledger{}
	s.fetched = make(map[string]struct{})
	for id := range doc.Schedules {
		s.fetched[id] = struct{}{}
	}
}

// beginExclusive marks a save/discard in flight; a second caller gets ErrBusy
// instead of overlapping network calls (the UI analogue disables the control).
func (s *Session) beginExclusive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.busy {
		return ErrBusy
	}
	s.busy = true
	return nil
}

func (s *Session) endExclusive() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

func (s *Session) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// snapshot captures the durable form of the session for the local cache.
func (s *Session) snapshot() domain.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	fetched := make([]string, 0, len(s.fetched))
	for id := range s.fetched {
		fetched = append(fetched, id)
	}
	sort.Strings(fetched)
	return domain.SessionSnapshot{
		Key:              s.key,
		Document:         s.doc.Clone(),
		Ledger:           s.ledger.Records(),
		FetchedSchedules: fetched,
		SavedAt:          s.nowFn(),
	}
}

// commit evaluates the rules against a candidate document and, when nothing
// blocks, swaps it in together with its ledger. Caller holds s.mu.
func (s *Session) commit(ctx context.Context, doc domain.ScenarioDocument, ledger domain.Ledger) (domain.Result, error) {
	res, err := s.engine.Evaluate(ctx, doc, ledger.Records())
	if err != nil {
		return domain.Result{}, err
	}
	if res.HasBlocking() {
		return res, domain.RuleViolationError{Result: res}
	}
	s.doc = doc
	s.ledger = ledger
	return res, nil
}
