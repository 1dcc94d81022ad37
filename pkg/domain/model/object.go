package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/cronxco/tapestry/pkg/domain/types"
)

// EventObject is an actor or target entity referenced by events: a person,
// account, workout, tag, document and so on. Recurring entities are upserted
// by natural key, never duplicated.
type EventObject struct {
	ID         types.ObjectID
	UserID     types.UserID
	Concept    string
	ObjectType string
	Title      string
	Content    string
	Metadata   map[string]any
	Time       time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// ObjectDraft carries the fields of an object to upsert. Identity for upsert
// purposes is (UserID, Concept, ObjectType, Title); the remaining fields are
// last-write-wins.
type ObjectDraft struct {
	Concept    string
	ObjectType string
	Title      string
	Content    string
	Metadata   map[string]any
	Time       time.Time
}

// IdentityKey returns the deterministic upsert key for the draft under the
// given user. Safe to use as a document ID.
func (d *ObjectDraft) IdentityKey(userID types.UserID) string {
	return ObjectIdentityKey(userID, d.Concept, d.ObjectType, d.Title)
}

// ObjectIdentityKey derives the deterministic upsert key for an object's
// natural identity quadruple
func ObjectIdentityKey(userID types.UserID, concept, objectType, title string) string {
	h := sha256.New()
	for _, part := range []string{string(userID), concept, objectType, title} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// EventIdentityKey derives the deterministic idempotency key for an event.
// Used as the event document ID so duplicate writes collide.
func EventIdentityKey(integrationID types.IntegrationID, sourceID string) string {
	h := sha256.New()
	h.Write([]byte(integrationID))
	h.Write([]byte{0})
	h.Write([]byte(sourceID))
	return hex.EncodeToString(h.Sum(nil))
}
