package adapter

import (
	"sync"

	agentctx "github.com/coreforge/agentd/internal/context"
	"github.com/coreforge/agentd/pkg/models"
)

// sessionStore keeps per-session message history in memory, trimmed after
// every turn to the most recent maxSessionTurns entries and, within that,
// to whatever fits the driving model's context window.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string][]models.Message
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string][]models.Message)}
}

// history returns a copy of the session's current message history.
func (s *sessionStore) history(sessionID string) []models.Message {
	if sessionID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.sessions[sessionID]
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out
}

// append adds turns to the session and trims the history to at most
// maxSessionTurns messages, then to whatever the model's context window
// can hold.
func (s *sessionStore) append(sessionID, modelID string, turns ...models.Message) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := append(s.sessions[sessionID], turns...)
	if len(msgs) > maxSessionTurns {
		msgs = msgs[len(msgs)-maxSessionTurns:]
	}
	s.sessions[sessionID] = trimToWindow(msgs, modelID)
}

// trimToWindow runs the already turn-capped history through the model's
// context window budget, preferring to drop the oldest non-system turns.
func trimToWindow(msgs []models.Message, modelID string) []models.Message {
	window := agentctx.NewWindowForModel(modelID)
	converted := make([]agentctx.Message, len(msgs))
	for i, m := range msgs {
		converted[i] = agentctx.Message{
			Role:     string(m.Role),
			Content:  m.Content,
			IsSystem: m.Role == models.RoleSystem,
		}
	}

	truncator := agentctx.NewTruncator(agentctx.TruncateOldest, window.Remaining())
	truncator.SetKeepFirst(0)
	truncator.SetKeepLast(4)
	kept, _ := truncator.Truncate(converted)

	if len(kept) == len(msgs) {
		return msgs
	}
	trimmed := make([]models.Message, 0, len(kept))
	dropped := len(msgs) - len(kept)
	for i := dropped; i < len(msgs); i++ {
		trimmed = append(trimmed, msgs[i])
	}
	return trimmed
}
