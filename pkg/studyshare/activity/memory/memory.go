// Package memory provides an in-process Session Activity Log.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/studyshare/pkg/studyshare"
)

// Log keeps sessions in a map guarded by a mutex.
type Log struct {
	mu       sync.RWMutex
	sessions map[string]*studyshare.Session
}

// New creates an empty activity log
func New() *Log {
	return &Log{sessions: make(map[string]*studyshare.Session)}
}

var _ studyshare.ActivityLog = (*Log)(nil)

func (l *Log) StartSession(ctx context.Context, session *studyshare.Session) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.sessions[session.ID]; exists {
		return nil
	}
	stored := *session
	stored.Actions = make(map[studyshare.ActionCategory][]studyshare.Action, len(studyshare.ActionCategories))
	for _, category := range studyshare.ActionCategories {
		stored.Actions[category] = append([]studyshare.Action{}, session.Actions[category]...)
	}
	l.sessions[session.ID] = &stored
	return nil
}

func (l *Log) GetSession(ctx context.Context, sessionID string) (*studyshare.Session, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	session, exists := l.sessions[sessionID]
	if !exists {
		return nil, studyshare.ErrSessionNotFound
	}
	return copySession(session), nil
}

// ListSessions returns sessions newest first.
func (l *Log) ListSessions(ctx context.Context, limit int) ([]*studyshare.Session, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*studyshare.Session, 0, len(l.sessions))
	for _, session := range l.sessions {
		result = append(result, copySession(session))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (l *Log) Append(ctx context.Context, sessionID string, category studyshare.ActionCategory, action studyshare.Action) error {
	if !category.IsValid() {
		return studyshare.ErrUnknownCategory
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	session, exists := l.sessions[sessionID]
	if !exists {
		return studyshare.ErrSessionNotFound
	}
	session.Actions[category] = append(session.Actions[category], action)
	return nil
}

func (l *Log) Query(ctx context.Context, itemID uuid.UUID) ([]*studyshare.HistoryEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []*studyshare.HistoryEntry
	for _, session := range l.sessions {
		for _, category := range studyshare.ActionCategories {
			for _, action := range session.Actions[category] {
				if !action.References(itemID) {
					continue
				}
				result = append(result, &studyshare.HistoryEntry{
					SessionID: session.ID,
					ActorName: session.ActorName,
					Role:      session.Role,
					Category:  category,
					Action:    action,
				})
			}
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Action.Timestamp.Before(result[j].Action.Timestamp)
	})
	return result, nil
}

func copySession(session *studyshare.Session) *studyshare.Session {
	c := *session
	c.Actions = make(map[studyshare.ActionCategory][]studyshare.Action, len(session.Actions))
	for category, actions := range session.Actions {
		c.Actions[category] = append([]studyshare.Action{}, actions...)
	}
	return &c
}
