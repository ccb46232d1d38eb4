package testutils

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingT struct {
	errorCalled  bool
	errorMessage string
}

func (m *recordingT) Errorf(format string, args ...interface{}) {
	m.errorCalled = true
	m.errorMessage = fmt.Sprintf(format, args...)
}

func TestTextAsserter_DefaultOptions(t *testing.T) {
	opts := NewTextAsserter(t).Options()

	assert.False(t, opts.IgnoreTrailingWhitespace)
	assert.False(t, opts.IgnoreEmptyLines)
	assert.False(t, opts.TrimSpace)
	assert.True(t, opts.StripANSI, "color sequences MUST be stripped by default")
	assert.False(t, opts.EnableColors)
}

func TestTextAsserter_Normalization(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		match    bool
	}{
		{
			name:     "identical",
			actual:   "a\nb",
			expected: "a\nb",
			match:    true,
		},
		{
			name:     "trailing blank is significant by default",
			actual:   "line ",
			expected: "line",
			match:    false,
		},
		{
			name:     "trailing blank ignored",
			opts:     []TextOption{WithIgnoreTrailingWhitespace(true)},
			actual:   "line  \nnext\t",
			expected: "line\nnext",
			match:    true,
		},
		{
			name:     "empty lines ignored",
			opts:     []TextOption{WithIgnoreEmptyLines(true)},
			actual:   "a\n\n  \nb",
			expected: "a\nb",
			match:    true,
		},
		{
			name:     "trim space",
			opts:     []TextOption{WithTrimSpace(true)},
			actual:   "\n\na\n",
			expected: "a",
			match:    true,
		},
		{
			name:     "ansi stripped",
			actual:   "\x1b[32m2a19\x1b[0m",
			expected: "2a19",
			match:    true,
		},
		{
			name:     "ansi kept",
			opts:     []TextOption{WithStripANSI(false)},
			actual:   "\x1b[32m2a19\x1b[0m",
			expected: "2a19",
			match:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewTextAsserter(t).WithOptions(tt.opts...).Diff(tt.actual, tt.expected)
			if tt.match {
				assert.Empty(t, diff)
			} else {
				assert.NotEmpty(t, diff)
			}
		})
	}
}

func TestTextAsserter_DiffMentionsChangedLine(t *testing.T) {
	diff := NewTextAsserter(t).Diff("one\ntwo\nthree", "one\n2\nthree")

	assert.Contains(t, diff, "-2")
	assert.Contains(t, diff, "+two")
}

func TestTextAsserter_ColoredDiffShowsWhitespace(t *testing.T) {
	diff := NewTextAsserter(t).WithOptions(WithEnableColors(true)).Diff("a b", "a  b")

	assert.True(t, strings.Contains(diff, "a·b"), "whitespace MUST be visible in colored diff")
}

func TestTextAsserter_Assert(t *testing.T) {
	failing := &recordingT{}
	NewTextAsserter(failing).Assert("hello", "world")
	assert.True(t, failing.errorCalled)
	assert.Contains(t, failing.errorMessage, "Text assertion failed")

	passing := &recordingT{}
	NewTextAsserter(passing).Assert("hello", "hello")
	assert.False(t, passing.errorCalled, passing.errorMessage)
}
