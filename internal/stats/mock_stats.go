package stats

import "github.com/stretchr/testify/mock"

// MockStatsUpdater records metric updates for assertions.
type MockStatsUpdater struct {
	mock.Mock
}

// NewNoopMockStats returns a mock that accepts any registration and update.
// Tests that do not assert on metrics use it to run a real hub.
func NewNoopMockStats() *MockStatsUpdater {
	su := &MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Maybe()
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()
	return su
}

func (m *MockStatsUpdater) RegisterMetric(name string) { m.Called(name) }

func (m *MockStatsUpdater) Incr(name string) { m.Called(name) }

func (m *MockStatsUpdater) Decr(name string) { m.Called(name) }
