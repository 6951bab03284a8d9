package log

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"
)

// NewMockEntry returns an entry logging at trace level into the returned hook only
func NewMockEntry() (*logrus.Entry, *MockLoggerHook) {
	logger, _ := test.NewNullLogger()
	logger.Level = logrus.TraceLevel

	hook := &MockLoggerHook{}
	hook.On("Fire", mock.Anything).Return(nil)

	logger.AddHook(hook)

	return logrus.NewEntry(logger), hook
}

// MockLoggerHook records the messages of all levels
type MockLoggerHook struct {
	mock.Mock

	Messages []string
	mu       sync.Mutex
}

// Levels implements `logrus.Hook`.
func (h *MockLoggerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements `logrus.Hook`.
func (h *MockLoggerHook) Fire(entry *logrus.Entry) error {
	_ = h.Called(entry.Level)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.Messages = append(h.Messages, entry.Message)

	return nil
}

// Logged returns true if any recorded message contains s
func (h *MockLoggerHook) Logged(s string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, m := range h.Messages {
		if strings.Contains(m, s) {
			return true
		}
	}

	return false
}

// Reset clears the recorded messages
func (h *MockLoggerHook) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.Messages = nil
}
