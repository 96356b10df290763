package core

import (
	"context"
	"fmt"

	"scenariocore/pkg/domain"
)

// Save submits the session's full optimistic document to the backend as a
// whole-document replace.
//
// Preconditions: the ledger is non-empty and no registered rule reports a
// blocking violation against the current document. On success the ledger is
// cleared and the baseline refreshed from the backend; on failure the ledger
// is preserved untouched and the error carries the server-provided detail.
// There is no retry policy; the caller re-invokes Save. A save racing another
// save or discard on the same session fails with ErrBusy.
func (s *Service) Save(ctx context.Context, sess *Session) (res domain.Result, err error) {
	start := s.nowFn()
	defer func() { s.observe(ctx, "save", start, err) }()

	if err = sess.beginExclusive(); err != nil {
		return domain.Result{}, err
	}
	defer sess.endExclusive()

	if !sess.Dirty() {
		return domain.Result{}, ErrNoChanges
	}

	res, err = s.engine.Evaluate(ctx, sess.Document(), sess.Changes())
	if err != nil {
		return domain.Result{}, fmt.Errorf("evaluate rules: %w", err)
	}
	if res.HasBlocking() {
		return res, domain.RuleViolationError{Result: res}
	}

	if s.archive != nil {
		if aerr := s.archive.ArchiveSnapshot(ctx, sess.snapshot()); aerr != nil {
			// The archive is a safety net, not a gate; the save proceeds.
			s.logger.Warn("baseline archive failed", "error", aerr)
		}
	}

	payload := sess.savePayload()
	if err = s.backend.SaveInputs(ctx, sess.key.Project, sess.key.Scenario, payload); err != nil {
		s.logger.Error("save failed", "project", sess.key.Project, "scenario", sess.key.Scenario, "error", err)
		return res, fmt.Errorf("save inputs: %w", err)
	}

	// The server accepted the document; it is the new baseline even if the
	// confirming refetch fails.
	fresh, ferr := s.backend.FetchInputs(ctx, sess.key.Project, sess.key.Scenario)
	if ferr != nil {
		s.logger.Warn("post-save refetch failed, keeping submitted document as baseline", "error", ferr)
		fresh = payload
	}
	sess.resetTo(fresh)

	if s.cache != nil {
		if cerr := s.cache.PutSnapshot(ctx, sess.snapshot()); cerr != nil {
			s.logger.Warn("snapshot cache write failed", "error", cerr)
		}
	}
	s.logger.Info("session saved", "project", sess.key.Project, "scenario", sess.key.Scenario)
	return res, nil
}

// Discard abandons all pending changes by resyncing the baseline from the
// backend. The ledger is cleared strictly after the refetch succeeds: when
// the resync fails the session keeps both its optimistic document and its
// ledger, and the error is returned for the caller to surface.
func (s *Service) Discard(ctx context.Context, sess *Session) (err error) {
	start := s.nowFn()
	defer func() { s.observe(ctx, "discard", start, err) }()

	if err = sess.beginExclusive(); err != nil {
		return err
	}
	defer sess.endExclusive()

	fresh, err := s.backend.FetchInputs(ctx, sess.key.Project, sess.key.Scenario)
	if err != nil {
		s.logger.Error("resync failed, pending changes preserved", "project", sess.key.Project, "scenario", sess.key.Scenario, "error", err)
		return fmt.Errorf("resync inputs: %w", err)
	}
	sess.resetTo(fresh)

	if s.cache != nil {
		if cerr := s.cache.PutSnapshot(ctx, sess.snapshot()); cerr != nil {
			s.logger.Warn("snapshot cache write failed", "error", cerr)
		}
	}
	s.logger.Info("session discarded", "project", sess.key.Project, "scenario", sess.key.Scenario)
	return nil
}
