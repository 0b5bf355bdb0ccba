// Package redis stores the Audit Ledger in Redis.
//
// Events are JSON values RPUSHed onto "<prefix>session:<id>" and the session
// ID is added to the "<prefix>sessions" set.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/tendant/studyshare/pkg/studyshare"
)

// DefaultPrefix namespaces ledger keys.
const DefaultPrefix = "audit:"

// Ledger implements studyshare.AuditLedger on a Redis client
type Ledger struct {
	client redis.UniversalClient
	prefix string
}

// New creates a Redis ledger. Prefix may be empty.
func New(client redis.UniversalClient, prefix string) *Ledger {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Ledger{client: client, prefix: prefix}
}

// NewFromURL parses a redis:// URL and creates a ledger with DefaultPrefix
func NewFromURL(url string) (*Ledger, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return New(client, ""), client, nil
}

var _ studyshare.AuditLedger = (*Ledger)(nil)

func (l *Ledger) sessionKey(id string) string {
	return l.prefix + "session:" + id
}

func (l *Ledger) sessionsKey() string {
	return l.prefix + "sessions"
}

func (l *Ledger) LogAction(ctx context.Context, event studyshare.AuditEvent) error {
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	pipe := l.client.TxPipeline()
	pipe.RPush(ctx, l.sessionKey(event.SessionID), b)
	pipe.SAdd(ctx, l.sessionsKey(), event.SessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("log audit event: %w", err)
	}
	return nil
}

func (l *Ledger) GetSessionLogs(ctx context.Context, sessionID string) ([]studyshare.AuditEvent, error) {
	values, err := l.client.LRange(ctx, l.sessionKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read audit events: %w", err)
	}
	events := make([]studyshare.AuditEvent, 0, len(values))
	for _, v := range values {
		var event studyshare.AuditEvent
		if err := json.Unmarshal([]byte(v), &event); err != nil {
			return nil, fmt.Errorf("decode audit event: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}

// GetAllSessionIDs returns session IDs in lexical order.
func (l *Ledger) GetAllSessionIDs(ctx context.Context) ([]string, error) {
	ids, err := l.client.SMembers(ctx, l.sessionsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list audit sessions: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}
