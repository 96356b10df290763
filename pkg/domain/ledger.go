package domain

import (
	"reflect"
)

// ChangeKind tags a pending-change record in the ledger.
type ChangeKind string

// Supported change kinds. Update and Delete feed the grouped per-table view;
// Create and Duplicate are carried as flat entries.
const (
	// KindUpdate records a single field edited away from its baseline value.
	KindUpdate ChangeKind = "update"
	// KindCreate records a new entity added since baseline.
	KindCreate ChangeKind = "create"
	// KindDuplicate records an entity copied from an existing one.
	KindDuplicate ChangeKind = "duplicate"
	// KindDelete records an entity removed since baseline.
	KindDelete ChangeKind = "delete"
)

// ChangeRecord is one pending, reversible edit relative to baseline. The same
// record type backs both tracker presentations: the input editor groups
// records by table, the database editor consumes the flat list.
type ChangeRecord struct {
	Kind   ChangeKind `json:"kind"`
	Table  TableName  `json:"table"`
	Entity string     `json:"entity"`
	Field  string     `json:"field,omitempty"`
	Old    any        `json:"old,omitempty"`
	New    any        `json:"new,omitempty"`
	// Source names the origin entity of a duplicate record.
	Source string `json:"source,omitempty"`
}

// Ledger is the ordered record of uncommitted edits. The zero value is an
// empty ledger. Ledgers are immutable values: every mutation returns a new
// ledger that shares no record storage with its input.
type Ledger struct {
	records []ChangeRecord
}

// NewLedger builds a ledger from existing records, cloning the slice.
func NewLedger(records []ChangeRecord) Ledger {
	return Ledger{records: append([]ChangeRecord(nil), records...)}
}

// Empty reports whether no changes are pending.
func (l Ledger) Empty() bool { return len(l.records) == 0 }

// Len returns the number of pending records.
func (l Ledger) Len() int { return len(l.records) }

// Records returns a copy of the flat, ordered record list.
func (l Ledger) Records() []ChangeRecord {
	return append([]ChangeRecord(nil), l.records...)
}

func (l Ledger) clone() Ledger {
	return Ledger{records: append([]ChangeRecord(nil), l.records...)}
}

// RecordFieldChange applies the update transition for one (table, entity,
// field) key. When a record already exists for the key it is either removed
// (next reverts to the stored original) or its New value replaced. Otherwise
// a record is created only when next differs from the baseline original, so a
// record exists iff current differs from baseline.
func (l Ledger) RecordFieldChange(table TableName, entity, field string, original, next any) Ledger {
	idx := l.findUpdate(table, entity, field)
	if idx >= 0 {
		if ValuesEqual(next, l.records[idx].Old) {
			cp := l.clone()
			cp.records = append(cp.records[:idx], cp.records[idx+1:]...)
			return cp
		}
		cp := l.clone()
		cp.records[idx].New = next
		return cp
	}
	if ValuesEqual(next, original) {
		return l.clone()
	}
	cp := l.clone()
	cp.records = append(cp.records, ChangeRecord{
		Kind:   KindUpdate,
		Table:  table,
		Entity: entity,
		Field:  field,
		Old:    original,
		New:    next,
	})
	return cp
}

// RecordDeletion appends delete records for the given ids and purges any
// pending update records they carry, preserving the invariant that an entity
// never appears in both partitions of the same table.
func (l Ledger) RecordDeletion(table TableName, ids ...string) Ledger {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	cp := Ledger{records: make([]ChangeRecord, 0, len(l.records)+len(ids))}
	for _, rec := range l.records {
		if rec.Kind == KindUpdate && rec.Table == table {
			if _, gone := drop[rec.Entity]; gone {
				continue
			}
		}
		cp.records = append(cp.records, rec)
	}
	for _, id := range ids {
		cp.records = append(cp.records, ChangeRecord{Kind: KindDelete, Table: table, Entity: id})
	}
	return cp
}

// PurgeUpdates removes pending update records for the given ids in one table
// without recording deletions. Used when a cascading removal spans tables but
// the deletion itself is recorded under the entity's identity table only.
func (l Ledger) PurgeUpdates(table TableName, ids ...string) Ledger {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	cp := Ledger{records: make([]ChangeRecord, 0, len(l.records))}
	for _, rec := range l.records {
		if rec.Kind == KindUpdate && rec.Table == table {
			if _, gone := drop[rec.Entity]; gone {
				continue
			}
		}
		cp.records = append(cp.records, rec)
	}
	return cp
}

// RecordCreation appends a create record for a new entity.
func (l Ledger) RecordCreation(table TableName, entity string) Ledger {
	cp := l.clone()
	cp.records = append(cp.records, ChangeRecord{Kind: KindCreate, Table: table, Entity: entity})
	return cp
}

// RecordDuplication appends a duplicate record linking the copy to its source.
func (l Ledger) RecordDuplication(table TableName, entity, source string) Ledger {
	cp := l.clone()
	cp.records = append(cp.records, ChangeRecord{Kind: KindDuplicate, Table: table, Entity: entity, Source: source})
	return cp
}

func (l Ledger) findUpdate(table TableName, entity, field string) int {
	for i, rec := range l.records {
		if rec.Kind == KindUpdate && rec.Table == table && rec.Entity == entity && rec.Field == field {
			return i
		}
	}
	return -1
}

// HasUpdate reports whether an update record exists for the key.
func (l Ledger) HasUpdate(table TableName, entity, field string) bool {
	return l.findUpdate(table, entity, field) >= 0
}

// FieldDelta carries the baseline and pending value of one edited field.
type FieldDelta struct {
	Old any `json:"oldValue"`
	New any `json:"newValue"`
}

// GroupedChanges is the per-table presentation of the ledger used by the
// input-editor change summary.
type GroupedChanges struct {
	Update map[TableName]map[string]map[string]FieldDelta `json:"update"`
	Delete map[TableName][]string                         `json:"delete"`
}

// Grouped projects the flat record list into the nested update/delete view.
// Delete ids keep their recording order.
func (l Ledger) Grouped() GroupedChanges {
	out := GroupedChanges{
		Update: make(map[TableName]map[string]map[string]FieldDelta),
		Delete: make(map[TableName][]string),
	}
	for _, rec := range l.records {
		switch rec.Kind {
		case KindUpdate:
			byEntity, ok := out.Update[rec.Table]
			if !ok {
				byEntity = make(map[string]map[string]FieldDelta)
				out.Update[rec.Table] = byEntity
			}
			byField, ok := byEntity[rec.Entity]
			if !ok {
				byField = make(map[string]FieldDelta)
				byEntity[rec.Entity] = byField
			}
			byField[rec.Field] = FieldDelta{Old: rec.Old, New: rec.New}
		case KindDelete:
			out.Delete[rec.Table] = append(out.Delete[rec.Table], rec.Entity)
		}
	}
	return out
}

// ValuesEqual compares two scalar values for revert detection. Numeric values
// compare numerically regardless of concrete type; everything else requires
// strict, type-aware equality. In particular 0, "" and false are all distinct.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok || bok {
		return aok && bok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
