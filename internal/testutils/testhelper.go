package testutils

import (
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

// TestHelper bundles a logger whose entries are captured for assertions.
type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
	Hook   *logtest.Hook
}

// NewTestHelper creates a helper with a debug-level logger that writes nowhere
// and records every entry.
func NewTestHelper(t *testing.T) *TestHelper {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return &TestHelper{
		T:      t,
		Logger: logger,
		Hook:   hook,
	}
}

// Entries returns the captured entries at the given level.
func (h *TestHelper) Entries(level logrus.Level) []logrus.Entry {
	var out []logrus.Entry
	for _, e := range h.Hook.AllEntries() {
		if e.Level == level {
			out = append(out, *e)
		}
	}
	return out
}

// Messages returns the messages of the captured entries at the given level.
func (h *TestHelper) Messages(level logrus.Level) []string {
	var out []string
	for _, e := range h.Entries(level) {
		out = append(out, e.Message)
	}
	return out
}
