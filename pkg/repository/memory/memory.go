package memory

import (
	"github.com/cronxco/tapestry/pkg/domain/interfaces"
)

// Memory is an in-memory Repository used for tests and local development
type Memory struct {
	group       *groupRepository
	integration *integrationRepository
	event       *eventRepository
	object      *objectRepository
}

var _ interfaces.Repository = &Memory{}

func New() *Memory {
	return &Memory{
		group:       newGroupRepository(),
		integration: newIntegrationRepository(),
		event:       newEventRepository(),
		object:      newObjectRepository(),
	}
}

func (m *Memory) Group() interfaces.GroupRepository {
	return m.group
}

func (m *Memory) Integration() interfaces.IntegrationRepository {
	return m.integration
}

func (m *Memory) Event() interfaces.EventRepository {
	return m.event
}

func (m *Memory) Object() interfaces.ObjectRepository {
	return m.object
}

func (m *Memory) Close() error {
	return nil
}
