// Package mongo stores the Session Activity Log in a MongoDB collection,
// one document per session with one array per action bucket.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/studyshare/pkg/studyshare"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultCollection is the collection used by Connect.
const DefaultCollection = "sessions"

type sessionDoc struct {
	ID        string                 `bson:"_id"`
	ActorID   string                 `bson:"actorId"`
	ActorName string                 `bson:"actorName"`
	Role      string                 `bson:"role"`
	CreatedAt time.Time              `bson:"createdAt"`
	Actions   map[string][]actionDoc `bson:"actions"`
}

type actionDoc struct {
	Timestamp time.Time              `bson:"timestamp"`
	Details   map[string]interface{} `bson:"details"`
}

// Log implements studyshare.ActivityLog on a Mongo collection
type Log struct {
	col *mongo.Collection
}

// New wraps an existing collection
func New(col *mongo.Collection) *Log {
	return &Log{col: col}
}

// Connect opens a client, pings it and returns a Log on database/DefaultCollection.
// The returned client must be disconnected by the caller.
func Connect(ctx context.Context, uri, database string, timeout time.Duration) (*Log, *mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}
	return New(client.Database(database).Collection(DefaultCollection)), client, nil
}

var _ studyshare.ActivityLog = (*Log)(nil)

func (l *Log) StartSession(ctx context.Context, session *studyshare.Session) error {
	actions := bson.M{}
	for _, category := range studyshare.ActionCategories {
		actions[string(category)] = toActionDocs(session.Actions[category])
	}

	_, err := l.col.UpdateOne(ctx,
		bson.M{"_id": session.ID},
		bson.M{"$setOnInsert": bson.M{
			"actorId":   session.ActorID.String(),
			"actorName": session.ActorName,
			"role":      string(session.Role),
			"createdAt": session.CreatedAt.UTC(),
			"actions":   actions,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("start session %s: %w", session.ID, err)
	}
	return nil
}

func (l *Log) GetSession(ctx context.Context, sessionID string) (*studyshare.Session, error) {
	var doc sessionDoc
	if err := l.col.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, studyshare.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return doc.toSession(), nil
}

// ListSessions returns sessions newest first.
func (l *Log) ListSessions(ctx context.Context, limit int) ([]*studyshare.Session, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := l.col.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer cur.Close(ctx)

	var result []*studyshare.Session
	for cur.Next(ctx) {
		var doc sessionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		result = append(result, doc.toSession())
	}
	return result, cur.Err()
}

func (l *Log) Append(ctx context.Context, sessionID string, category studyshare.ActionCategory, action studyshare.Action) error {
	if !category.IsValid() {
		return studyshare.ErrUnknownCategory
	}

	res, err := l.col.UpdateOne(ctx,
		bson.M{"_id": sessionID},
		bson.M{"$push": bson.M{"actions." + string(category): toActionDoc(action)}},
	)
	if err != nil {
		return fmt.Errorf("append to session %s: %w", sessionID, err)
	}
	if res.MatchedCount == 0 {
		return studyshare.ErrSessionNotFound
	}
	return nil
}

// Query scans every session document. Item references may sit at any depth
// of the details, so no index can serve this lookup.
func (l *Log) Query(ctx context.Context, itemID uuid.UUID) ([]*studyshare.HistoryEntry, error) {
	cur, err := l.col.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer cur.Close(ctx)

	var result []*studyshare.HistoryEntry
	for cur.Next(ctx) {
		var doc sessionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		session := doc.toSession()
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
	if err := cur.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Action.Timestamp.Before(result[j].Action.Timestamp)
	})
	return result, nil
}

func (d *sessionDoc) toSession() *studyshare.Session {
	actorID, _ := uuid.Parse(d.ActorID)
	session := &studyshare.Session{
		ID:        d.ID,
		ActorID:   actorID,
		ActorName: d.ActorName,
		Role:      studyshare.Role(d.Role),
		CreatedAt: d.CreatedAt,
		Actions:   make(map[studyshare.ActionCategory][]studyshare.Action, len(d.Actions)),
	}
	for category, docs := range d.Actions {
		actions := make([]studyshare.Action, 0, len(docs))
		for _, a := range docs {
			details, _ := normalize(a.Details).(map[string]interface{})
			actions = append(actions, studyshare.Action{Timestamp: a.Timestamp, Details: details})
		}
		session.Actions[studyshare.ActionCategory(category)] = actions
	}
	return session
}

func toActionDocs(actions []studyshare.Action) []actionDoc {
	docs := make([]actionDoc, 0, len(actions))
	for _, a := range actions {
		docs = append(docs, toActionDoc(a))
	}
	return docs
}

func toActionDoc(a studyshare.Action) actionDoc {
	details := a.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	return actionDoc{Timestamp: a.Timestamp.UTC(), Details: details}
}

// normalize turns decoded BSON containers into plain maps and slices.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case primitive.D:
		m := make(map[string]interface{}, len(t))
		for _, e := range t {
			m[e.Key] = normalize(e.Value)
		}
		return m
	case primitive.M:
		return normalize(map[string]interface{}(t))
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[k] = normalize(val)
		}
		return m
	case primitive.A:
		return normalize([]interface{}(t))
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, val := range t {
			s[i] = normalize(val)
		}
		return s
	case primitive.DateTime:
		return t.Time().UTC()
	default:
		return v
	}
}
