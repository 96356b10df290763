package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"scenariocore/pkg/domain"
)

// BackendClient is the compute-backend API surface the service depends on.
// internal/backend provides the HTTP implementation.
type BackendClient interface {
	FetchInputs(ctx context.Context, project, scenario string) (domain.ScenarioDocument, error)
	SaveInputs(ctx context.Context, project, scenario string, doc domain.ScenarioDocument) error
	FetchSchedule(ctx context.Context, project, scenario, buildingID string) (domain.Schedule, error)
}

// Archiver retains the previous baseline before a full-replace save
// overwrites server state. internal/archive provides the implementations.
type Archiver interface {
	ArchiveSnapshot(ctx context.Context, snapshot domain.SessionSnapshot) error
}

// Service manages independent editing sessions keyed by (project, scenario)
// and drives the save/discard/resync protocol against the compute backend.
// Sessions are explicit handles; nothing is process-global, so concurrent
// scenarios (or tests) never collide on shared state.
type Service struct {
	mu       sync.Mutex
	sessions map[domain.SessionKey]*Session

	backend BackendClient
	schema  domain.Schema
	engine  *domain.RulesEngine
	cache   domain.SnapshotStore
	archive Archiver
	metrics MetricsRecorder
	logger  *slog.Logger
	nowFn   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithSchema injects the column catalogue used for coercion and validation.
func WithSchema(schema domain.Schema) Option {
	return func(s *Service) { s.schema = schema }
}

// WithRules replaces the default rules engine.
func WithRules(engine *domain.RulesEngine) Option {
	return func(s *Service) { s.engine = engine }
}

// WithSnapshotCache attaches a local snapshot store; sessions are persisted
// after every save-relevant transition and recent scenarios are recorded.
func WithSnapshotCache(cache domain.SnapshotStore) Option {
	return func(s *Service) { s.cache = cache }
}

// WithArchive attaches a pre-save baseline archive.
func WithArchive(archive Archiver) Option {
	return func(s *Service) { s.archive = archive }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(rec MetricsRecorder) Option {
	return func(s *Service) { s.metrics = rec }
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the service clock (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.nowFn = now }
}

// NewService constructs a session service talking to the given backend.
func NewService(backend BackendClient, opts ...Option) *Service {
	s := &Service{
		sessions: make(map[domain.SessionKey]*Session),
		backend:  backend,
		metrics:  NopMetricsRecorder{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		s.engine = NewDefaultRulesEngine(s.schema)
	}
	return s
}

func (s *Service) observe(ctx context.Context, op string, start time.Time, err error) {
	s.metrics.Observe(ctx, op, err == nil, s.nowFn().Sub(start))
}

// Open fetches the baseline for a (project, scenario) identity and returns
// the editing session. Opening an identity that already has a live session
// returns the existing handle.
func (s *Service) Open(ctx context.Context, project, scenario string) (sess *Session, err error) {
	start := s.nowFn()
	defer func() { s.observe(ctx, "open", start, err) }()

	key := domain.SessionKey{Kind: domain.KindInputs, Project: project, Scenario: scenario}
	s.mu.Lock()
	if existing, ok := s.sessions[key]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	s.mu.Unlock()

	doc, err := s.backend.FetchInputs(ctx, project, scenario)
	if err != nil {
		return nil, fmt.Errorf("fetch inputs: %w", err)
	}

	sess = NewSession(key, doc, s.schema, s.engine)
	sess.nowFn = s.nowFn

	s.mu.Lock()
	if existing, ok := s.sessions[key]; ok {
		// lost the race; the first open wins
		s.mu.Unlock()
		return existing, nil
	}
	s.sessions[key] = sess
	s.mu.Unlock()

	s.logger.Info("session opened", "project", project, "scenario", scenario)
	if s.cache != nil {
		if cerr := s.cache.PutSnapshot(ctx, sess.snapshot()); cerr != nil {
			s.logger.Warn("snapshot cache write failed", "error", cerr)
		}
		if cerr := s.cache.TouchRecent(ctx, domain.RecentScenario{Project: project, Scenario: scenario, OpenedAt: s.nowFn()}); cerr != nil {
			s.logger.Warn("recent scenario record failed", "error", cerr)
		}
	}
	return sess, nil
}

// Session returns the live session for an identity, if any.
func (s *Service) Session(project, scenario string) (*Session, bool) {
	key := domain.SessionKey{Kind: domain.KindInputs, Project: project, Scenario: scenario}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	return sess, ok
}

// EnsureSchedule lazily fetches a building's schedule sub-document into the
// session. Fetches happen once per id; later calls are no-ops.
func (s *Service) EnsureSchedule(ctx context.Context, sess *Session, buildingID string) (err error) {
	start := s.nowFn()
	defer func() { s.observe(ctx, "ensure_schedule", start, err) }()

	if sess.ScheduleFetched(buildingID) {
		return nil
	}
	sched, err := s.backend.FetchSchedule(ctx, sess.key.Project, sess.key.Scenario, buildingID)
	if err != nil {
		return fmt.Errorf("fetch schedule %s: %w", buildingID, err)
	}
	sess.attachSchedule(buildingID, sched)
	return nil
}

// Release closes a session. While changes are pending the release is refused
// with ErrDirtySession unless force is set; forcing abandons the pending
// changes without saving. This is the navigation-guard surface: callers
// surface the error as a confirmation prompt and retry with force once the
// user confirms.
func (s *Service) Release(ctx context.Context, sess *Session, force bool) error {
	if sess.Dirty() && !force {
		return ErrDirtySession
	}
	s.mu.Lock()
	delete(s.sessions, sess.key)
	s.mu.Unlock()
	sess.close()
	if s.cache != nil {
		if _, err := s.cache.DeleteSnapshot(ctx, sess.key); err != nil {
			s.logger.Warn("snapshot cache delete failed", "error", err)
		}
	}
	s.logger.Info("session released", "project", sess.key.Project, "scenario", sess.key.Scenario, "forced", force)
	return nil
}
