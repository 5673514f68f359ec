package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"
	"github.com/tb0hdan/toolpilot-mcp/pkg/models"
	"github.com/tb0hdan/toolpilot-mcp/pkg/storage"
	"github.com/tb0hdan/toolpilot-mcp/pkg/types"
)

var errWrite = errors.New("disk full")

// failingStorage accepts reads of nothing and rejects every write.
type failingStorage struct {
	mu      sync.Mutex
	upserts int
}

func (f *failingStorage) UpsertSession(context.Context, *models.ToolSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	return errWrite
}

func (f *failingStorage) GetSession(context.Context, string, string) (*models.ToolSession, error) {
	return nil, storage.ErrNotFound
}

func (f *failingStorage) ListSessions(context.Context, string, int, int) ([]models.ToolSession, int64, error) {
	return nil, 0, nil
}

func (f *failingStorage) DeleteSession(context.Context, string, string) error { return nil }

func (f *failingStorage) DeleteAllSessions(context.Context, string) error { return nil }

func (f *failingStorage) UpsertInteractions(context.Context, []models.ToolInteraction) error {
	return errWrite
}

func (f *failingStorage) GetInteractions(context.Context, string) ([]models.ToolInteraction, error) {
	return nil, nil
}

func (f *failingStorage) Close() error { return nil }

func (f *failingStorage) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("id-%d", n.Add(1))
	}
}

func fixedClock() func() time.Time {
	t := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	return func() time.Time { return t }
}

type StoreTestSuite struct {
	suite.Suite
	db      *storage.GormStorage
	dbPath  string
	store   *Store
	ctx     context.Context
	options []Option
}

func (s *StoreTestSuite) SetupTest() {
	tmpFile, err := os.CreateTemp("", "session-*.db")
	s.Require().NoError(err)
	tmpFile.Close()
	s.dbPath = tmpFile.Name()

	s.db, err = storage.NewSQLiteStorage(storage.Config{DatabasePath: s.dbPath})
	s.Require().NoError(err)

	s.ctx = context.Background()
	s.options = []Option{WithClock(fixedClock()), WithIDGenerator(sequentialIDs())}
	s.store = New(zerolog.Nop(), s.db, StaticIdentity("user-1"), s.options...)
}

func (s *StoreTestSuite) TearDownTest() {
	s.store.Flush()
	s.db.Close()
	os.Remove(s.dbPath)
}

func (s *StoreTestSuite) TestStart_DefaultsPhase() {
	id := s.store.Start("conv-1", "", "")
	s.NotEmpty(id)

	sess, ok := s.store.Active()
	s.Require().True(ok)
	s.Equal(id, sess.ID)
	s.Equal(types.PhasePlanning, sess.CurrentPhase)
	s.Equal("conv-1", sess.ConversationID)
	s.Empty(sess.Interactions)
	s.Empty(sess.ToolChain)
	s.NotNil(sess.SharedContext)
	s.NotNil(sess.PendingInputs)
}

func (s *StoreTestSuite) TestStart_ReplacesActive() {
	first := s.store.Start("", "", types.PhaseDesign)
	second := s.store.Start("", "", types.PhaseExecution)
	s.NotEqual(first, second)

	sess, ok := s.store.Active()
	s.Require().True(ok)
	s.Equal(second, sess.ID)
	s.Equal(types.PhaseExecution, sess.CurrentPhase)
}

func (s *StoreTestSuite) TestStart_PersistsInBackground() {
	id := s.store.Start("", "proj-1", types.PhaseDesign)
	s.store.Flush()

	row, err := s.db.GetSession(s.ctx, id, "user-1")
	s.Require().NoError(err)
	s.Equal("design", row.CurrentPhase)
	s.Require().NotNil(row.ProjectID)
	s.Equal("proj-1", *row.ProjectID)
	s.Nil(row.ConversationID)
}

func (s *StoreTestSuite) TestActive_ReturnsCopy() {
	s.store.Start("", "", "")
	sess, _ := s.store.Active()
	sess.SharedContext["leak"] = true
	sess.ToolChain = append(sess.ToolChain, "leak")

	again, _ := s.store.Active()
	s.NotContains(again.SharedContext, "leak")
	s.Empty(again.ToolChain)
}

func (s *StoreTestSuite) TestAppendInteraction_NoSession() {
	_, ok := s.store.AppendInteraction(Interaction{ToolID: "wbs-builder"})
	s.False(ok)
	_, active := s.store.Active()
	s.False(active)
}

func (s *StoreTestSuite) TestAppendInteraction_TracksTools() {
	s.store.Start("", "", "")

	first, ok := s.store.AppendInteraction(Interaction{ToolID: "project-charter", Action: "generate", Success: true})
	s.Require().True(ok)
	s.NotEmpty(first.ID)

	sess, _ := s.store.Active()
	s.Equal("project-charter", sess.ActiveTool)
	s.Empty(sess.PreviousTool)

	s.store.AppendInteraction(Interaction{ToolID: "wbs-builder", Success: true})
	s.store.AppendInteraction(Interaction{ToolID: "project-charter", Success: true})

	sess, _ = s.store.Active()
	s.Len(sess.Interactions, 3)
	s.Equal([]string{"project-charter", "wbs-builder"}, sess.ToolChain)
	s.Equal("project-charter", sess.ActiveTool)
	s.Equal("wbs-builder", sess.PreviousTool)
}

func (s *StoreTestSuite) TestAppendInteraction_SameToolTwice() {
	s.store.Start("", "", "")
	s.store.AppendInteraction(Interaction{ToolID: "risk-register"})
	s.store.AppendInteraction(Interaction{ToolID: "risk-register"})

	sess, _ := s.store.Active()
	s.Equal("risk-register", sess.ActiveTool)
	s.Equal("risk-register", sess.PreviousTool)
	s.Equal([]string{"risk-register"}, sess.ToolChain)
}

func (s *StoreTestSuite) TestAppendInteraction_TimestampsIncrease() {
	s.store.Start("", "", "")
	for range 5 {
		s.store.AppendInteraction(Interaction{ToolID: "ai-assistant"})
	}

	sess, _ := s.store.Active()
	for i := 1; i < len(sess.Interactions); i++ {
		s.True(sess.Interactions[i].Timestamp.After(sess.Interactions[i-1].Timestamp))
	}
}

func (s *StoreTestSuite) TestAppendInteraction_CopiesPayloads() {
	s.store.Start("", "", "")
	outputs := Payload{"budget": 100.0}
	s.store.AppendInteraction(Interaction{ToolID: "budget-estimator", Outputs: outputs})
	outputs["budget"] = 1.0

	sess, _ := s.store.Active()
	s.Equal(100.0, sess.Interactions[0].Outputs["budget"])
}

func (s *StoreTestSuite) TestUpdateSharedContext_Merges() {
	s.False(s.store.UpdateSharedContext(Payload{"a": 1}))

	s.store.Start("", "", "")
	s.True(s.store.UpdateSharedContext(Payload{"a": 1, "b": 2}))
	s.True(s.store.UpdateSharedContext(Payload{"b": 3, "c": 4}))

	sess, _ := s.store.Active()
	s.Equal(Payload{"a": 1, "b": 3, "c": 4}, sess.SharedContext)
}

func (s *StoreTestSuite) TestTransferContext() {
	s.store.Start("", "", "")
	s.store.AppendInteraction(Interaction{ToolID: "project-charter", Outputs: Payload{"scope": "old"}})
	s.store.AppendInteraction(Interaction{ToolID: "project-charter", Outputs: Payload{"scope": "bridge", "sponsor": "city"}})
	s.store.SetPendingInputs(Payload{"keep": true})

	moved := s.store.TransferContext("project-charter", "wbs-builder", []string{"scope", "budget"})
	s.Equal(Payload{"scope": "bridge"}, moved)

	sess, _ := s.store.Active()
	s.Equal(Payload{"keep": true, "scope": "bridge"}, sess.PendingInputs)
}

func (s *StoreTestSuite) TestTransferContext_UnknownSource() {
	s.store.Start("", "", "")
	s.Nil(s.store.TransferContext("project-charter", "wbs-builder", []string{"scope"}))

	sess, _ := s.store.Active()
	s.Empty(sess.PendingInputs)
}

func (s *StoreTestSuite) TestSetPendingInputs_Replaces() {
	s.store.Start("", "", "")
	s.store.SetPendingInputs(Payload{"a": 1})
	s.store.SetPendingInputs(Payload{"b": 2})

	sess, _ := s.store.Active()
	s.Equal(Payload{"b": 2}, sess.PendingInputs)

	s.store.SetPendingInputs(nil)
	sess, _ = s.store.Active()
	s.NotNil(sess.PendingInputs)
	s.Empty(sess.PendingInputs)
}

func (s *StoreTestSuite) TestWorkflow() {
	s.store.Start("", "", "")
	s.False(s.store.UpdateWorkflowStep(0, WorkflowStep{Status: StepActive}))

	s.True(s.store.SetActiveWorkflow(&Workflow{
		ID:   "wf-1",
		Name: "Kickoff",
		Steps: []WorkflowStep{
			{ToolID: "project-charter", Status: StepPending},
			{ToolID: "wbs-builder", Status: StepPending},
		},
	}))

	s.True(s.store.UpdateWorkflowStep(0, WorkflowStep{Status: StepCompleted, Outputs: Payload{"ok": true}}))
	s.False(s.store.UpdateWorkflowStep(2, WorkflowStep{Status: StepCompleted}))
	s.False(s.store.UpdateWorkflowStep(-1, WorkflowStep{Status: StepCompleted}))

	sess, _ := s.store.Active()
	s.Require().NotNil(sess.ActiveWorkflow)
	s.Equal(StepCompleted, sess.ActiveWorkflow.Steps[0].Status)
	s.Equal("project-charter", sess.ActiveWorkflow.Steps[0].ToolID)
	s.Equal(Payload{"ok": true}, sess.ActiveWorkflow.Steps[0].Outputs)
	s.Equal(StepPending, sess.ActiveWorkflow.Steps[1].Status)

	s.True(s.store.SetActiveWorkflow(nil))
	sess, _ = s.store.Active()
	s.Nil(sess.ActiveWorkflow)
}

func (s *StoreTestSuite) TestSetActiveTool() {
	s.store.Start("", "", "")
	s.store.SetActiveTool("wbs-builder")
	s.store.SetActiveTool("gantt-scheduler")

	sess, _ := s.store.Active()
	s.Equal("gantt-scheduler", sess.ActiveTool)
	s.Equal("wbs-builder", sess.PreviousTool)
	s.Empty(sess.Interactions)
}

func (s *StoreTestSuite) TestEnd_PersistsAndClears() {
	id := s.store.Start("", "", "")
	s.store.UpdateSharedContext(Payload{"client": "acme"})
	s.store.End(s.ctx)

	_, ok := s.store.Active()
	s.False(ok)

	row, err := s.db.GetSession(s.ctx, id, "user-1")
	s.Require().NoError(err)
	s.JSONEq(`{"client":"acme"}`, string(row.SharedContext))

	// Ending twice is harmless.
	s.store.End(s.ctx)
}

// durable reads the stored copy of a session once background writes are done.
func (s *StoreTestSuite) durable(id string) *Session {
	s.store.Flush()
	row, err := s.db.GetSession(s.ctx, id, "user-1")
	s.Require().NoError(err)
	rows, err := s.db.GetInteractions(s.ctx, id)
	s.Require().NoError(err)
	sess, err := FromRows(row, rows)
	s.Require().NoError(err)
	return sess
}

func (s *StoreTestSuite) TestMutations_PersistInBackground() {
	id := s.store.Start("", "", "")
	s.store.AppendInteraction(Interaction{ToolID: "project-charter", Outputs: Payload{"scope": "bridge"}, Success: true})
	s.store.SetActiveTool("wbs-builder")
	s.store.SetPendingInputs(Payload{"budget": "1m"})
	s.store.SetActiveWorkflow(&Workflow{
		ID:    "wf-1",
		Name:  "Kickoff",
		Steps: []WorkflowStep{{ToolID: "wbs-builder", Status: StepActive}},
	})

	stored := s.durable(id)
	s.Equal("wbs-builder", stored.ActiveTool)
	s.Equal("project-charter", stored.PreviousTool)
	s.Equal(Payload{"budget": "1m"}, stored.PendingInputs)
	s.Require().NotNil(stored.ActiveWorkflow)
	s.Equal("wf-1", stored.ActiveWorkflow.ID)

	s.store.UpdateWorkflowStep(0, WorkflowStep{Status: StepCompleted})
	s.store.SetPhase(types.PhaseDesign)
	s.store.TransferContext("project-charter", "wbs-builder", []string{"scope"})

	stored = s.durable(id)
	s.Equal(StepCompleted, stored.ActiveWorkflow.Steps[0].Status)
	s.Equal(types.PhaseDesign, stored.CurrentPhase)
	s.Equal(Payload{"budget": "1m", "scope": "bridge"}, stored.PendingInputs)
}

func (s *StoreTestSuite) TestUpdateSharedContext_WaitsForNextWrite() {
	id := s.store.Start("", "", "")
	s.store.UpdateSharedContext(Payload{"client": "acme"})
	s.Empty(s.durable(id).SharedContext)

	s.store.SetActiveTool("wbs-builder")
	s.Equal(Payload{"client": "acme"}, s.durable(id).SharedContext)
}

func (s *StoreTestSuite) TestEnsure() {
	sess, started := s.store.Ensure()
	s.Require().NotNil(sess)
	s.True(started)
	s.Equal(types.DefaultPhase, sess.CurrentPhase)

	again, started := s.store.Ensure()
	s.False(started)
	s.Equal(sess.ID, again.ID)

	// Ensure returns copies.
	s.store.End(s.ctx)
	s.Equal(sess.ID, again.ID)
	s.Equal(sess.ID, s.durable(sess.ID).ID)
}

func (s *StoreTestSuite) TestTakePendingInputs() {
	_, ok := s.store.TakePendingInputs()
	s.False(ok)

	id := s.store.Start("", "", "")
	s.store.SetPendingInputs(Payload{"scope": "bridge"})

	taken, ok := s.store.TakePendingInputs()
	s.True(ok)
	s.Equal(Payload{"scope": "bridge"}, taken)

	sess, _ := s.store.Active()
	s.NotNil(sess.PendingInputs)
	s.Empty(sess.PendingInputs)
	s.Empty(s.durable(id).PendingInputs)

	taken, ok = s.store.TakePendingInputs()
	s.True(ok)
	s.Empty(taken)
}

func (s *StoreTestSuite) TestEnd_ForgetsWriteVersion() {
	first := s.store.Start("", "", "")
	s.store.AppendInteraction(Interaction{ToolID: "project-charter", Success: true})
	s.store.End(s.ctx)

	second := s.store.Start("", "", "")
	s.store.End(s.ctx)

	s.store.writeMu.Lock()
	defer s.store.writeMu.Unlock()
	s.NotContains(s.store.written, first)
	s.NotContains(s.store.written, second)
	s.Empty(s.store.written)
}

func (s *StoreTestSuite) TestSaveAndLoad_RoundTrip() {
	id := s.store.Start("conv-9", "proj-9", types.PhaseExecution)
	s.store.AppendInteraction(Interaction{
		ToolID:     "project-charter",
		Action:     "generate",
		Inputs:     Payload{"name": "Bridge"},
		Outputs:    Payload{"scope": "bridge", "budget": 1200.5},
		TokensUsed: 321,
		CostUSD:    0.0123,
		DurationMs: 42,
		Success:    true,
	})
	s.store.AppendInteraction(Interaction{
		ToolID:       "wbs-builder",
		Action:       "build",
		Success:      false,
		ErrorMessage: "missing scope",
	})
	s.store.UpdateSharedContext(Payload{"client": "acme", "sites": []any{"north", "south"}})
	s.store.SetPendingInputs(Payload{"scope": "bridge"})
	s.store.SetActiveWorkflow(&Workflow{ID: "wf", Name: "Plan", Steps: []WorkflowStep{{ToolID: "wbs-builder", Status: StepActive}}})
	s.Require().True(s.store.Save(s.ctx))
	s.store.Flush()

	want, _ := s.store.Active()

	other := New(zerolog.Nop(), s.db, StaticIdentity("user-1"))
	s.Require().True(other.Load(s.ctx, id))
	got, ok := other.Active()
	s.Require().True(ok)

	s.Equal(want.ID, got.ID)
	s.Equal(want.ConversationID, got.ConversationID)
	s.Equal(want.ProjectID, got.ProjectID)
	s.Equal(want.CurrentPhase, got.CurrentPhase)
	s.Equal(want.ActiveTool, got.ActiveTool)
	s.Equal(want.PreviousTool, got.PreviousTool)
	s.Equal(want.ToolChain, got.ToolChain)
	s.Equal(want.SharedContext, got.SharedContext)
	s.Equal(want.PendingInputs, got.PendingInputs)
	s.Equal(want.ActiveWorkflow, got.ActiveWorkflow)
	s.True(want.CreatedAt.Equal(got.CreatedAt))
	s.True(want.UpdatedAt.Equal(got.UpdatedAt))

	s.Require().Len(got.Interactions, 2)
	for i := range want.Interactions {
		w, g := want.Interactions[i], got.Interactions[i]
		s.Equal(w.ID, g.ID)
		s.Equal(w.ToolID, g.ToolID)
		s.Equal(w.Action, g.Action)
		s.Equal(w.TokensUsed, g.TokensUsed)
		s.InDelta(w.CostUSD, g.CostUSD, 1e-9)
		s.Equal(w.DurationMs, g.DurationMs)
		s.Equal(w.Success, g.Success)
		s.Equal(w.ErrorMessage, g.ErrorMessage)
		s.True(w.Timestamp.Equal(g.Timestamp))
	}
	s.Equal(want.Interactions[0].Inputs, got.Interactions[0].Inputs)
	s.Equal(want.Interactions[0].Outputs, got.Interactions[0].Outputs)
}

func (s *StoreTestSuite) TestResume_OtherUser() {
	id := s.store.Start("", "", "")
	s.store.Flush()

	other := New(zerolog.Nop(), s.db, StaticIdentity("user-2"))
	s.False(other.Resume(s.ctx, id))
	_, ok := other.Active()
	s.False(ok)
}

func (s *StoreTestSuite) TestLoad_Missing() {
	current := s.store.Start("", "", "")
	s.False(s.store.Load(s.ctx, "missing"))

	// The active session survives a failed load.
	sess, ok := s.store.Active()
	s.Require().True(ok)
	s.Equal(current, sess.ID)
}

func (s *StoreTestSuite) TestLoad_MalformedRow() {
	row := &models.ToolSession{
		ID:             "broken",
		UserID:         "user-1",
		CurrentPhase:   "planning",
		ToolChain:      []byte(`[]`),
		SharedContext:  []byte(`[1,2]`),
		PendingInputs:  []byte(`{}`),
		ActiveWorkflow: []byte(`null`),
		CreatedAt:      "2026-01-01T00:00:00.000Z",
		UpdatedAt:      "2026-01-01T00:00:00.000Z",
	}
	s.Require().NoError(s.db.UpsertSession(s.ctx, row))
	s.False(s.store.Load(s.ctx, "broken"))
}

func (s *StoreTestSuite) TestNoUser_StaysInMemory() {
	anon := New(zerolog.Nop(), s.db, StaticIdentity(""), s.options...)
	id := anon.Start("", "", "")
	anon.AppendInteraction(Interaction{ToolID: "ai-assistant"})
	s.False(anon.Save(s.ctx))
	anon.Flush()

	sess, ok := anon.Active()
	s.Require().True(ok)
	s.Len(sess.Interactions, 1)

	_, err := s.db.GetSession(s.ctx, id, "")
	s.True(errors.Is(err, storage.ErrNotFound))
	s.False(anon.Load(s.ctx, id))
}

func (s *StoreTestSuite) TestStorageFailure_KeepsMemoryState() {
	failing := &failingStorage{}
	store := New(zerolog.Nop(), failing, StaticIdentity("user-1"))

	store.Start("", "", "")
	_, ok := store.AppendInteraction(Interaction{ToolID: "risk-register"})
	s.True(ok)
	s.False(store.Save(s.ctx))
	store.Flush()

	sess, active := store.Active()
	s.Require().True(active)
	s.Len(sess.Interactions, 1)
	s.Equal("risk-register", sess.ActiveTool)
	s.GreaterOrEqual(failing.count(), 1)

	store.End(s.ctx)
	_, active = store.Active()
	s.False(active)
}

func (s *StoreTestSuite) TestNilStorage() {
	store := New(zerolog.Nop(), nil, StaticIdentity("user-1"))
	id := store.Start("", "", "")
	store.AppendInteraction(Interaction{ToolID: "ai-assistant"})
	store.Flush()

	s.False(store.Save(s.ctx))
	s.False(store.Load(s.ctx, id))
	sess, ok := store.Active()
	s.Require().True(ok)
	s.Len(sess.Interactions, 1)
}

func (s *StoreTestSuite) TestConcurrentAppends() {
	id := s.store.Start("", "", "")

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.store.AppendInteraction(Interaction{ToolID: fmt.Sprintf("tool-%d", i%4)})
		}()
	}
	wg.Wait()
	s.store.Flush()

	sess, _ := s.store.Active()
	s.Len(sess.Interactions, 20)
	s.Len(sess.ToolChain, 4)

	rows, err := s.db.GetInteractions(s.ctx, id)
	s.Require().NoError(err)
	s.Len(rows, 20)
	for i := range rows {
		s.Equal(sess.Interactions[i].ID, rows[i].ID)
	}

	row, err := s.db.GetSession(s.ctx, id, "user-1")
	s.Require().NoError(err)
	s.Equal(20, row.InteractionsCount)
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}
