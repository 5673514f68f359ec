package session

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tb0hdan/toolpilot-mcp/pkg/storage"
	"github.com/tb0hdan/toolpilot-mcp/pkg/types"
)

// Store owns the single active session of a client and mirrors every
// mutation to durable storage on a best-effort basis. The in-memory session
// is the source of truth; a failed write is logged and never rolled back.
type Store struct {
	mu      sync.Mutex
	active  *Session
	version uint64

	// writeMu serializes durable writes so a stale snapshot never replaces a newer one.
	writeMu sync.Mutex
	written map[string]uint64
	pending sync.WaitGroup

	logger   zerolog.Logger
	storage  storage.Storage
	identity Identity

	now   func() time.Time
	newID func() string
}

type snapshot struct {
	session *Session
	version uint64
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator replaces the session and interaction id generator.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		s.newID = newID
	}
}

// New creates a Store. A nil storage keeps sessions in memory only.
func New(logger zerolog.Logger, store storage.Storage, identity Identity, opts ...Option) *Store {
	s := &Store{
		written:  make(map[string]uint64),
		logger:   logger.With().Str("component", "session").Logger(),
		storage:  store,
		identity: identity,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins a new active session, replacing any current one, and returns its id.
// Persisting the new session happens in the background.
func (s *Store) Start(conversationID, projectID string, phase types.Phase) string {
	s.mu.Lock()
	sess := s.startLocked(conversationID, projectID, phase)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.persistAsync(snap)
	return sess.ID
}

// Ensure returns a copy of the active session, starting one in the default
// phase when none is active. started reports whether a session was created.
func (s *Store) Ensure() (sess *Session, started bool) {
	s.mu.Lock()
	if s.active != nil {
		defer s.mu.Unlock()
		return s.active.Clone(), false
	}
	s.startLocked("", "", "")
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.persistAsync(snap)
	return snap.session.Clone(), true
}

func (s *Store) startLocked(conversationID, projectID string, phase types.Phase) *Session {
	if phase == "" {
		phase = types.DefaultPhase
	}

	now := s.timestamp()
	s.active = &Session{
		ID:             s.newID(),
		ConversationID: conversationID,
		ProjectID:      projectID,
		CurrentPhase:   phase,
		Interactions:   []Interaction{},
		ToolChain:      []string{},
		SharedContext:  Payload{},
		PendingInputs:  Payload{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	s.logger.Info().Str("session_id", s.active.ID).Str("phase", string(phase)).Msg("session started")
	return s.active
}

// End makes a final persist attempt and clears the active session whether or not it succeeded.
func (s *Store) End(ctx context.Context) {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	s.active = nil
	s.mu.Unlock()

	// Background writes of this session must land before its version entry is dropped.
	s.Flush()
	_ = s.persist(ctx, snap)
	s.forget(snap.session.ID)
	s.logger.Info().Str("session_id", snap.session.ID).Msg("session ended")
}

// Resume loads a previously persisted session and makes it active.
func (s *Store) Resume(ctx context.Context, id string) bool {
	return s.Load(ctx, id)
}

// Active returns a copy of the active session.
func (s *Store) Active() (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return nil, false
	}
	return s.active.Clone(), true
}

// AppendInteraction records a completed tool call, makes its tool active and
// persists the session in the background. The id and timestamp of in are
// assigned by the store. It returns false when no session is active.
func (s *Store) AppendInteraction(in Interaction) (Interaction, bool) {
	s.mu.Lock()
	sess := s.active
	if sess == nil {
		s.mu.Unlock()
		s.logger.Warn().Str("tool_id", in.ToolID).Msg("no active session, interaction dropped")
		return Interaction{}, false
	}

	in.ID = s.newID()
	in.Timestamp = s.timestamp()
	// Keep timestamps strictly increasing so created_at order is append order.
	if n := len(sess.Interactions); n > 0 {
		if last := sess.Interactions[n-1].Timestamp; !in.Timestamp.After(last) {
			in.Timestamp = last.Add(time.Millisecond)
		}
	}
	in.Inputs = maps.Clone(in.Inputs)
	in.Outputs = maps.Clone(in.Outputs)

	sess.Interactions = append(sess.Interactions, in)
	if !slices.Contains(sess.ToolChain, in.ToolID) {
		sess.ToolChain = append(sess.ToolChain, in.ToolID)
	}
	sess.PreviousTool = sess.ActiveTool
	sess.ActiveTool = in.ToolID
	sess.UpdatedAt = in.Timestamp
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Debug().
		Str("session_id", sess.ID).
		Str("tool_id", in.ToolID).
		Str("action", in.Action).
		Bool("success", in.Success).
		Msg("interaction recorded")
	s.persistAsync(snap)

	return in, true
}

// UpdateSharedContext shallow-merges patch into the shared context.
// It does not persist; the next interaction or Save does.
func (s *Store) UpdateSharedContext(patch Payload) bool {
	return s.mutate("update shared context", func(sess *Session) {
		maps.Copy(sess.SharedContext, patch)
	})
}

// TransferContext copies the named output fields of the most recent
// interaction with fromToolID into the pending inputs and returns what was
// copied. Fields missing from that output are skipped. toToolID is only
// recorded in the log; the transfer is not tied to a later switch.
func (s *Store) TransferContext(fromToolID, toToolID string, fields []string) Payload {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return nil
	}
	last, ok := s.active.LastInteraction(fromToolID)
	if !ok {
		s.mu.Unlock()
		s.logger.Debug().Str("from", fromToolID).Str("to", toToolID).Msg("no interaction to transfer from")
		return nil
	}

	transferred := make(Payload)
	for _, field := range fields {
		if value, ok := last.Outputs[field]; ok {
			transferred[field] = value
		}
	}
	maps.Copy(s.active.PendingInputs, transferred)
	s.active.UpdatedAt = s.timestamp()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Debug().
		Str("session_id", snap.session.ID).
		Str("from", fromToolID).
		Str("to", toToolID).
		Int("fields", len(transferred)).
		Msg("context transferred")
	s.persistAsync(snap)

	return transferred
}

// SetPendingInputs replaces the staged inputs for the next tool.
func (s *Store) SetPendingInputs(inputs Payload) bool {
	return s.mutateAndPersist("set pending inputs", func(sess *Session) {
		sess.PendingInputs = maps.Clone(inputs)
		if sess.PendingInputs == nil {
			sess.PendingInputs = Payload{}
		}
	})
}

// SetActiveWorkflow replaces the active workflow. A nil workflow clears it.
func (s *Store) SetActiveWorkflow(w *Workflow) bool {
	return s.mutateAndPersist("set workflow", func(sess *Session) {
		if w == nil {
			sess.ActiveWorkflow = nil
			return
		}
		sess.ActiveWorkflow = w.Clone()
	})
}

// UpdateWorkflowStep merges patch into the step at index. It returns false
// when there is no workflow or the index is out of range.
func (s *Store) UpdateWorkflowStep(index int, patch WorkflowStep) bool {
	s.mu.Lock()
	if s.active == nil || s.active.ActiveWorkflow == nil {
		s.mu.Unlock()
		s.logger.Warn().Int("step", index).Msg("no active workflow")
		return false
	}
	steps := s.active.ActiveWorkflow.Steps
	if index < 0 || index >= len(steps) {
		s.mu.Unlock()
		s.logger.Warn().Int("step", index).Int("steps", len(steps)).Msg("workflow step out of range")
		return false
	}
	steps[index].merge(patch)
	s.active.UpdatedAt = s.timestamp()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.persistAsync(snap)
	return true
}

// SetActiveTool switches the active tool without recording an interaction.
func (s *Store) SetActiveTool(id string) bool {
	return s.mutateAndPersist("set active tool", func(sess *Session) {
		sess.PreviousTool = sess.ActiveTool
		sess.ActiveTool = id
	})
}

// SetPhase moves the session to another project phase.
func (s *Store) SetPhase(phase types.Phase) bool {
	return s.mutateAndPersist("set phase", func(sess *Session) {
		sess.CurrentPhase = phase
	})
}

// TakePendingInputs returns the staged inputs and clears them in one step.
// It returns false when no session is active.
func (s *Store) TakePendingInputs() (Payload, bool) {
	var taken Payload
	ok := s.mutateAndPersist("take pending inputs", func(sess *Session) {
		taken = sess.PendingInputs
		sess.PendingInputs = Payload{}
	})
	return taken, ok
}

// Save persists the active session synchronously. Failures are logged.
func (s *Store) Save(ctx context.Context) bool {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return false
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	return s.persist(ctx, snap) == nil
}

// Flush waits for background writes to finish.
func (s *Store) Flush() {
	s.pending.Wait()
}

// Close waits for background writes and saves the active session one last time.
// The session stays active so a Store can be closed before its storage is.
func (s *Store) Close(ctx context.Context) {
	s.Flush()
	if _, ok := s.Active(); ok {
		s.Save(ctx)
	}
}

func (s *Store) mutate(op string, fn func(sess *Session)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		s.logger.Warn().Str("op", op).Msg("no active session")
		return false
	}
	fn(s.active)
	s.active.UpdatedAt = s.timestamp()
	return true
}

// mutateAndPersist is mutate followed by a background write of the result.
func (s *Store) mutateAndPersist(op string, fn func(sess *Session)) bool {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		s.logger.Warn().Str("op", op).Msg("no active session")
		return false
	}
	fn(s.active)
	s.active.UpdatedAt = s.timestamp()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.persistAsync(snap)
	return true
}

func (s *Store) snapshotLocked() snapshot {
	s.version++
	return snapshot{session: s.active.Clone(), version: s.version}
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}
