package services

import (
	"context"
	"sync"
	"time"

	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/fleetmaint/backend/internal/domain"
	"github.com/google/uuid"
)

// SessionManager is the in-process correlation session registry. It allows
// at most one outstanding session per (task, asset).
type SessionManager struct {
	sessions    map[string]*domain.Session
	byAsset     map[string]string
	topicPrefix string
	mu          sync.RWMutex
}

func NewSessionManager(topicPrefix string) *SessionManager {
	return &SessionManager{
		sessions:    make(map[string]*domain.Session),
		byAsset:     make(map[string]string),
		topicPrefix: topicPrefix,
	}
}

var _ ports.SessionManager = (*SessionManager)(nil)

func sessionAssetKey(taskID string, key domain.AssetKey) string {
	return taskID + "|" + key.TypeID + "|" + key.AssetID
}

func (m *SessionManager) Open(ctx context.Context, taskID string, key domain.AssetKey) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ak := sessionAssetKey(taskID, key)
	if _, exists := m.byAsset[ak]; exists {
		return domain.Session{}, ports.ErrSessionExists
	}

	s := &domain.Session{
		ID:          uuid.New().String(),
		MessageID:   taskID,
		TopicPrefix: m.topicPrefix,
		TaskID:      taskID,
		Asset:       key,
		OpenedAt:    time.Now(),
	}
	m.sessions[s.ID] = s
	m.byAsset[ak] = s.ID

	// Return a copy to avoid sharing the registry entry
	return *s, nil
}

func (m *SessionManager) Close(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sessions[sessionID]
	if !exists {
		return ports.ErrNoSession
	}
	delete(m.sessions, sessionID)
	delete(m.byAsset, sessionAssetKey(s.TaskID, s.Asset))
	return nil
}

func (m *SessionManager) Get(sessionID string) (domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.sessions[sessionID]
	if !exists {
		return domain.Session{}, ports.ErrNoSession
	}
	return *s, nil
}

// Outstanding returns the number of open sessions.
func (m *SessionManager) Outstanding() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
