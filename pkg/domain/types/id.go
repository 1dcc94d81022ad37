package types

import "github.com/google/uuid"

// UserID represents the unique identifier for a user
type UserID string

// GroupID represents the unique identifier for an integration group
type GroupID string

// IntegrationID represents the unique identifier for an integration instance
type IntegrationID string

// EventID represents the unique identifier for an event
type EventID string

// ObjectID represents the unique identifier for an event object
type ObjectID string

// BlockID represents the unique identifier for a block
type BlockID string

func NewGroupID() GroupID {
	return GroupID(uuid.New().String())
}

func NewIntegrationID() IntegrationID {
	return IntegrationID(uuid.New().String())
}

func NewEventID() EventID {
	return EventID(uuid.New().String())
}

func NewObjectID() ObjectID {
	return ObjectID(uuid.New().String())
}

func NewBlockID() BlockID {
	return BlockID(uuid.New().String())
}

func (x UserID) String() string        { return string(x) }
func (x GroupID) String() string       { return string(x) }
func (x IntegrationID) String() string { return string(x) }
func (x EventID) String() string       { return string(x) }
func (x ObjectID) String() string      { return string(x) }
func (x BlockID) String() string       { return string(x) }
