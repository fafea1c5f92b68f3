package agent

import (
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/hupe1980/agenthive/core"
)

// MockRouter for testing agents that reply through the message fabric
type MockRouter struct {
	mock.Mock
}

func NewMockRouter() *MockRouter {
	return &MockRouter{}
}

func (m *MockRouter) SendMessage(targetID string, msg core.Message) error {
	args := m.Called(targetID, msg)
	return args.Error(0)
}

func (m *MockRouter) Broadcast(msg core.Message, excludeID string) error {
	args := m.Called(msg, excludeID)
	return args.Error(0)
}

func (m *MockRouter) Publish(publisherID string, msg core.Message) error {
	args := m.Called(publisherID, msg)
	return args.Error(0)
}

// MockNotifier for testing executor task notifications
type MockNotifier struct {
	mock.Mock
}

func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) HandleScriptStarted(taskID, script, deviceID string, timeout time.Duration) {
	m.Called(taskID, script, deviceID, timeout)
}

func (m *MockNotifier) HandleScriptFinished(taskID string, success bool) {
	m.Called(taskID, success)
}

func (m *MockNotifier) HandleScriptError(taskID, errMsg string) {
	m.Called(taskID, errMsg)
}

// Interface compliance (compile-time assertions)
var (
	_ core.Router  = (*MockRouter)(nil)
	_ TaskNotifier = (*MockNotifier)(nil)
)
