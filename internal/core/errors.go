package core

import (
	"errors"
	"fmt"

	"scenariocore/pkg/domain"
)

// ErrNotFound is returned when an operation references an unknown entity.
type ErrNotFound struct {
	Table domain.TableName
	ID    string
}

func (e ErrNotFound) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("entity %s not found", e.ID)
	}
	return fmt.Sprintf("%s entity %s not found", e.Table, e.ID)
}

// MixedEntityTypeError rejects a deletion batch whose ids resolve to more
// than one entity kind. Batches must be homogeneous; mixing zone buildings
// with trees or surroundings in one call fails fast instead of silently
// classifying by the first id.
type MixedEntityTypeError struct {
	Kinds []domain.TableName
}

func (e MixedEntityTypeError) Error() string {
	return fmt.Sprintf("deletion batch mixes entity kinds %v", e.Kinds)
}

// ErrScheduleNotFetched is returned when a schedule edit targets a building
// whose schedule sub-document has not been lazily fetched yet.
type ErrScheduleNotFetched struct {
	ID string
}

func (e ErrScheduleNotFetched) Error() string {
	return fmt.Sprintf("schedule for building %s has not been fetched", e.ID)
}

var (
	// ErrBusy rejects a save or discard while another one is in flight on
	// the same session.
	ErrBusy = errors.New("session operation already in flight")
	// ErrNoChanges rejects a save when the ledger is empty.
	ErrNoChanges = errors.New("no pending changes to save")
	// ErrDirtySession guards session release while changes are pending.
	ErrDirtySession = errors.New("session has unsaved changes")
	// ErrSessionClosed is returned by operations on a released session.
	ErrSessionClosed = errors.New("session closed")
)
