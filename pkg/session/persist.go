package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tb0hdan/toolpilot-mcp/pkg/models"
	"github.com/tb0hdan/toolpilot-mcp/pkg/storage"
	"github.com/tb0hdan/toolpilot-mcp/pkg/types"
	"gorm.io/datatypes"
)

var (
	// ErrNoUser is returned when a session is persisted without an authenticated user.
	ErrNoUser = errors.New("no authenticated user")
	// ErrNoStorage is returned when the store runs without durable storage.
	ErrNoStorage = errors.New("storage not configured")
	// ErrMalformedRow is returned when a stored row cannot be decoded.
	ErrMalformedRow = errors.New("malformed session row")
)

// Load fetches a session owned by the current user and makes it active.
// Any failure is logged and reported as false; the active session is left untouched.
func (s *Store) Load(ctx context.Context, id string) bool {
	log := s.logger.With().Str("session_id", id).Logger()

	if s.storage == nil {
		log.Warn().Err(ErrNoStorage).Msg("cannot load session")
		return false
	}
	userID, ok := s.currentUser(ctx)
	if !ok {
		log.Warn().Err(ErrNoUser).Msg("cannot load session")
		return false
	}

	row, err := s.storage.GetSession(ctx, id, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Info().Msg("session not found")
		} else {
			log.Error().Err(err).Msg("failed to load session")
		}
		return false
	}
	rows, err := s.storage.GetInteractions(ctx, id)
	if err != nil {
		log.Error().Err(err).Msg("failed to load interactions")
		return false
	}
	sess, err := FromRows(row, rows)
	if err != nil {
		log.Error().Err(err).Msg("failed to decode session")
		return false
	}

	s.mu.Lock()
	s.active = sess
	s.mu.Unlock()

	log.Info().Int("interactions", len(sess.Interactions)).Msg("session loaded")
	return true
}

func (s *Store) persistAsync(snap snapshot) {
	if s.storage == nil {
		return
	}
	s.pending.Add(1)
	// Background context: the write outlives the tool call that triggered it.
	go func() { //nolint:contextcheck
		defer s.pending.Done()
		_ = s.persist(context.Background(), snap)
	}()
}

func (s *Store) persist(ctx context.Context, snap snapshot) error {
	err := s.write(ctx, snap)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", snap.session.ID).Msg("failed to persist session")
	}
	return err
}

func (s *Store) write(ctx context.Context, snap snapshot) error {
	if s.storage == nil {
		return ErrNoStorage
	}
	userID, ok := s.currentUser(ctx)
	if !ok {
		return ErrNoUser
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// A newer snapshot of the same session already reached storage.
	if s.written[snap.session.ID] >= snap.version {
		return nil
	}

	row, rows, err := ToRows(snap.session, userID)
	if err != nil {
		return err
	}
	if err := s.storage.UpsertSession(ctx, row); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	if err := s.storage.UpsertInteractions(ctx, rows); err != nil {
		return fmt.Errorf("upsert interactions: %w", err)
	}
	s.written[snap.session.ID] = snap.version
	return nil
}

// forget drops the write version of a session that will not be written again.
func (s *Store) forget(id string) {
	s.writeMu.Lock()
	delete(s.written, id)
	s.writeMu.Unlock()
}

func (s *Store) currentUser(ctx context.Context) (string, bool) {
	if s.identity == nil {
		return "", false
	}
	return s.identity.CurrentUser(ctx)
}

// ToRows converts a session into its durable rows owned by userID.
func ToRows(sess *Session, userID string) (*models.ToolSession, []models.ToolInteraction, error) {
	toolChain, err := encodeJSON(sess.ToolChain, "[]")
	if err != nil {
		return nil, nil, fmt.Errorf("tool chain: %w", err)
	}
	shared, err := encodeJSON(sess.SharedContext, "{}")
	if err != nil {
		return nil, nil, fmt.Errorf("shared context: %w", err)
	}
	pending, err := encodeJSON(sess.PendingInputs, "{}")
	if err != nil {
		return nil, nil, fmt.Errorf("pending inputs: %w", err)
	}
	workflow := datatypes.JSON("null")
	if sess.ActiveWorkflow != nil {
		if workflow, err = encodeJSON(sess.ActiveWorkflow, "null"); err != nil {
			return nil, nil, fmt.Errorf("workflow: %w", err)
		}
	}

	row := &models.ToolSession{
		ID:                sess.ID,
		UserID:            userID,
		ConversationID:    optional(sess.ConversationID),
		ProjectID:         optional(sess.ProjectID),
		CurrentPhase:      string(sess.CurrentPhase),
		ActiveTool:        optional(sess.ActiveTool),
		PreviousTool:      optional(sess.PreviousTool),
		ToolChain:         toolChain,
		SharedContext:     shared,
		PendingInputs:     pending,
		ActiveWorkflow:    workflow,
		InteractionsCount: len(sess.Interactions),
		CreatedAt:         formatTime(sess.CreatedAt),
		UpdatedAt:         formatTime(sess.UpdatedAt),
	}

	rows := make([]models.ToolInteraction, 0, len(sess.Interactions))
	for _, in := range sess.Interactions {
		inputs, err := encodeJSON(in.Inputs, "{}")
		if err != nil {
			return nil, nil, fmt.Errorf("interaction %s inputs: %w", in.ID, err)
		}
		outputs, err := encodeJSON(in.Outputs, "{}")
		if err != nil {
			return nil, nil, fmt.Errorf("interaction %s outputs: %w", in.ID, err)
		}
		rows = append(rows, models.ToolInteraction{
			ID:           in.ID,
			SessionID:    sess.ID,
			ToolID:       in.ToolID,
			Action:       in.Action,
			Inputs:       inputs,
			Outputs:      outputs,
			TokensUsed:   in.TokensUsed,
			CostUSD:      in.CostUSD,
			DurationMs:   in.DurationMs,
			Success:      in.Success,
			ErrorMessage: optional(in.ErrorMessage),
			CreatedAt:    formatTime(in.Timestamp),
		})
	}

	return row, rows, nil
}

// FromRows rebuilds a session from its durable rows. Interactions must be in creation order.
func FromRows(row *models.ToolSession, rows []models.ToolInteraction) (*Session, error) {
	sess := &Session{
		ID:             row.ID,
		ConversationID: deref(row.ConversationID),
		ProjectID:      deref(row.ProjectID),
		CurrentPhase:   types.Phase(row.CurrentPhase),
		ActiveTool:     deref(row.ActiveTool),
		PreviousTool:   deref(row.PreviousTool),
		ToolChain:      []string{},
		SharedContext:  Payload{},
		PendingInputs:  Payload{},
		Interactions:   make([]Interaction, 0, len(rows)),
	}
	if sess.CurrentPhase == "" {
		sess.CurrentPhase = types.DefaultPhase
	}

	var err error
	if err = decodeJSON(row.ToolChain, &sess.ToolChain); err != nil {
		return nil, fmt.Errorf("%w: tool_chain: %w", ErrMalformedRow, err)
	}
	if err = decodeJSON(row.SharedContext, &sess.SharedContext); err != nil {
		return nil, fmt.Errorf("%w: shared_context: %w", ErrMalformedRow, err)
	}
	if err = decodeJSON(row.PendingInputs, &sess.PendingInputs); err != nil {
		return nil, fmt.Errorf("%w: pending_inputs: %w", ErrMalformedRow, err)
	}
	if !isNull(row.ActiveWorkflow) {
		var workflow Workflow
		if err = decodeJSON(row.ActiveWorkflow, &workflow); err != nil {
			return nil, fmt.Errorf("%w: active_workflow: %w", ErrMalformedRow, err)
		}
		sess.ActiveWorkflow = &workflow
	}
	if sess.CreatedAt, err = parseTime(row.CreatedAt); err != nil {
		return nil, fmt.Errorf("%w: created_at: %w", ErrMalformedRow, err)
	}
	if sess.UpdatedAt, err = parseTime(row.UpdatedAt); err != nil {
		return nil, fmt.Errorf("%w: updated_at: %w", ErrMalformedRow, err)
	}

	for _, r := range rows {
		in := Interaction{
			ID:           r.ID,
			ToolID:       r.ToolID,
			Action:       r.Action,
			Inputs:       Payload{},
			Outputs:      Payload{},
			TokensUsed:   r.TokensUsed,
			CostUSD:      r.CostUSD,
			DurationMs:   r.DurationMs,
			Success:      r.Success,
			ErrorMessage: deref(r.ErrorMessage),
		}
		if err = decodeJSON(r.Inputs, &in.Inputs); err != nil {
			return nil, fmt.Errorf("%w: interaction %s inputs: %w", ErrMalformedRow, r.ID, err)
		}
		if err = decodeJSON(r.Outputs, &in.Outputs); err != nil {
			return nil, fmt.Errorf("%w: interaction %s outputs: %w", ErrMalformedRow, r.ID, err)
		}
		if in.Timestamp, err = parseTime(r.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: interaction %s created_at: %w", ErrMalformedRow, r.ID, err)
		}
		sess.Interactions = append(sess.Interactions, in)
	}

	return sess, nil
}

func encodeJSON(v any, empty string) (datatypes.JSON, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if isNull(data) {
		return datatypes.JSON(empty), nil
	}
	return datatypes.JSON(data), nil
}

// decodeJSON leaves dst unchanged for empty or null columns.
func decodeJSON(data datatypes.JSON, dst any) error {
	if isNull(data) {
		return nil
	}
	return json.Unmarshal(data, dst)
}

func isNull(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(types.TimestampLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
