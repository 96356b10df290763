// Package database implements the change tracker for the reference-database
// editor: nested category/section component documents edited against a
// server baseline, with the same ledger semantics as the scenario editor but
// a flat change-list presentation.
package database

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"scenariocore/internal/core"
	"scenariocore/pkg/domain"
)

// Client is the backend surface the tracker depends on. internal/backend
// provides the HTTP implementation.
type Client interface {
	FetchDatabases(ctx context.Context, project, scenario string) (domain.DatabaseDocument, error)
	SaveDatabases(ctx context.Context, project, scenario string, doc domain.DatabaseDocument) error
}

// DataKey addresses one component table inside the nested document as a
// "category/section" path.
type DataKey struct {
	Category string
	Section  string
}

// ParseDataKey splits a "category/section" path.
func ParseDataKey(path string) (DataKey, error) {
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return DataKey{}, fmt.Errorf("invalid data key %q: want category/section", path)
	}
	return DataKey{Category: parts[0], Section: parts[1]}, nil
}

// String renders the key back to its path form.
func (k DataKey) String() string { return k.Category + "/" + k.Section }

func (k DataKey) table() domain.TableName { return domain.TableName(k.String()) }

// ErrComponentExists reports a create targeting an occupied component code.
type ErrComponentExists struct {
	Key  DataKey
	Code string
}

func (e ErrComponentExists) Error() string {
	return fmt.Sprintf("component %s already exists in %s", e.Code, e.Key)
}

// Tracker holds the database-editor session state for one (project, scenario)
// identity: baseline document, pending-change ledger, and the save/discard
// protocol against the backend.
type Tracker struct {
	mu       sync.Mutex
	project  string
	scenario string
	backend  Client
	schemas  domain.Schema
	logger   *slog.Logger

	doc    domain.DatabaseDocument
	ledger domain.Ledger
	busy   bool
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithSchema installs the column catalogue used for coercion and save-time
// validation, keyed by data-key path.
func WithSchema(schema domain.Schema) Option {
	return func(t *Tracker) { t.schemas = schema }
}

// WithLogger replaces the tracker's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// Open fetches the database document and returns a tracker over it.
func Open(ctx context.Context, backend Client, project, scenario string, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		project:  project,
		scenario: scenario,
		backend:  backend,
		schemas:  domain.Schema{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(t)
	}
	doc, err := backend.FetchDatabases(ctx, project, scenario)
	if err != nil {
		return nil, fmt.Errorf("fetch databases: %w", err)
	}
	t.doc = doc
	return t, nil
}

// Dirty reports whether uncommitted edits are pending.
func (t *Tracker) Dirty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.ledger.Empty()
}

// Document returns a deep copy of the current optimistic document.
func (t *Tracker) Document() domain.DatabaseDocument {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.doc.Clone()
}

// Changes returns the flat, ordered pending-change list.
func (t *Tracker) Changes() []domain.ChangeRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ledger.Records()
}

// Component returns a copy of one component row.
func (t *Tracker) Component(key DataKey, code string) (domain.Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	table, ok := t.doc.Lookup(key.Category, key.Section)
	if !ok {
		return nil, false
	}
	row, ok := table[code]
	if !ok {
		return nil, false
	}
	return row.Clone(), true
}

// replaceTable installs a new table copy under key, copying the outer maps so
// the previous document is never mutated.
func (t *Tracker) replaceTable(key DataKey, table domain.Table) {
	next := make(domain.DatabaseDocument, len(t.doc))
	for category, sections := range t.doc {
		next[category] = sections
	}
	sections := make(map[string]domain.Table, len(next[key.Category])+1)
	for section, st := range next[key.Category] {
		sections[section] = st
	}
	sections[key.Section] = table
	next[key.Category] = sections
	t.doc = next
}

func (t *Tracker) lookup(key DataKey) (domain.Table, error) {
	table, ok := t.doc.Lookup(key.Category, key.Section)
	if !ok {
		return nil, fmt.Errorf("unknown data key %s", key)
	}
	return table, nil
}

// UpdateComponent applies one field edit to a component, coercing the raw
// value per the column catalogue and recording the change. Reverting a field
// to its baseline value removes the pending record.
func (t *Tracker) UpdateComponent(key DataKey, code, field string, raw any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	table, err := t.lookup(key)
	if err != nil {
		return err
	}
	row, ok := table[code]
	if !ok {
		return core.ErrNotFound{Table: key.table(), ID: code}
	}
	value := t.schemas.Coerce(key.table(), field, raw)
	ledger := t.ledger.RecordFieldChange(key.table(), code, field, row[field], value)

	next := table.Clone()
	next[code][field] = value
	if ref, ok := next[code][domain.ReferenceField]; ok && ref != domain.UserEditMarker {
		next[code][domain.ReferenceField] = domain.UserEditMarker
	}
	t.replaceTable(key, next)
	t.ledger = ledger
	return nil
}

// CreateComponent inserts a new component row under its code and records the
// creation. Codes must be unique within their section.
func (t *Tracker) CreateComponent(key DataKey, code string, row domain.Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	table, err := t.lookup(key)
	if err != nil {
		return err
	}
	if _, exists := table[code]; exists {
		return ErrComponentExists{Key: key, Code: code}
	}
	next := table.Clone()
	fresh := row.Clone()
	if fresh == nil {
		fresh = domain.Record{}
	}
	fresh["code"] = code
	next[code] = fresh
	t.replaceTable(key, next)
	t.ledger = t.ledger.RecordCreation(key.table(), code)
	return nil
}

// DuplicateComponent copies an existing component under a new code and
// records the duplication with its source.
func (t *Tracker) DuplicateComponent(key DataKey, sourceCode, newCode string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	table, err := t.lookup(key)
	if err != nil {
		return err
	}
	source, ok := table[sourceCode]
	if !ok {
		return core.ErrNotFound{Table: key.table(), ID: sourceCode}
	}
	if _, exists := table[newCode]; exists {
		return ErrComponentExists{Key: key, Code: newCode}
	}
	next := table.Clone()
	copyRow := source.Clone()
	copyRow["code"] = newCode
	next[newCode] = copyRow
	t.replaceTable(key, next)
	t.ledger = t.ledger.RecordDuplication(key.table(), newCode, sourceCode)
	return nil
}

// DeleteComponents removes components and records the deletions, purging any
// pending update records they carried.
func (t *Tracker) DeleteComponents(key DataKey, codes ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(codes) == 0 {
		return nil
	}
	table, err := t.lookup(key)
	if err != nil {
		return err
	}
	for _, code := range codes {
		if _, ok := table[code]; !ok {
			return core.ErrNotFound{Table: key.table(), ID: code}
		}
	}
	next := table.Clone()
	for _, code := range codes {
		delete(next, code)
	}
	t.replaceTable(key, next)
	t.ledger = t.ledger.RecordDeletion(key.table(), codes...)
	return nil
}

// validate checks every pending update against the column catalogue. Any
// failure blocks the save.
func (t *Tracker) validate() error {
	var result domain.Result
	for _, rec := range t.ledger.Records() {
		if rec.Kind != domain.KindUpdate {
			continue
		}
		spec, declared := t.schemas.Column(rec.Table, rec.Field)
		if !declared {
			continue
		}
		if err := spec.Validate(rec.Field, rec.New); err != nil {
			result.Violations = append(result.Violations, domain.Violation{
				Rule:     "column-schema",
				Severity: domain.SeverityBlock,
				Message:  err.Error(),
				Table:    rec.Table,
				Entity:   rec.Entity,
				Field:    rec.Field,
			})
		}
	}
	if result.HasBlocking() {
		return domain.RuleViolationError{Result: result}
	}
	return nil
}

func (t *Tracker) beginExclusive() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.busy {
		return core.ErrBusy
	}
	t.busy = true
	return nil
}

func (t *Tracker) endExclusive() {
	t.mu.Lock()
	t.busy = false
	t.mu.Unlock()
}

// Save submits the full document as a replace. On success the ledger is
// cleared and the baseline refreshed from the backend; on failure the ledger
// is preserved so the user can retry or discard.
func (t *Tracker) Save(ctx context.Context) error {
	if err := t.beginExclusive(); err != nil {
		return err
	}
	defer t.endExclusive()

	t.mu.Lock()
	if t.ledger.Empty() {
		t.mu.Unlock()
		return core.ErrNoChanges
	}
	if err := t.validate(); err != nil {
		t.mu.Unlock()
		return err
	}
	payload := t.doc.Clone()
	t.mu.Unlock()

	if err := t.backend.SaveDatabases(ctx, t.project, t.scenario, payload); err != nil {
		return fmt.Errorf("save databases: %w", err)
	}

	fresh, err := t.backend.FetchDatabases(ctx, t.project, t.scenario)
	if err != nil {
		// The save landed; fall back to the submitted payload as baseline.
		t.logger.Warn("post-save refetch failed, using submitted payload as baseline",
			"project", t.project, "scenario", t.scenario, "error", err)
		fresh = payload
	}
	t.mu.Lock()
	t.doc = fresh
	t.ledger = domain.Ledger{}
	t.mu.Unlock()
	return nil
}

// Discard refetches the baseline and clears the ledger only once the refetch
// has succeeded. A failed refetch leaves both document and ledger untouched.
func (t *Tracker) Discard(ctx context.Context) error {
	if err := t.beginExclusive(); err != nil {
		return err
	}
	defer t.endExclusive()

	fresh, err := t.backend.FetchDatabases(ctx, t.project, t.scenario)
	if err != nil {
		return fmt.Errorf("resync databases: %w", err)
	}
	t.mu.Lock()
	t.doc = fresh
	t.ledger = domain.Ledger{}
	t.mu.Unlock()
	return nil
}
