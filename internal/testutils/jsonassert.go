package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// JSONAssertOptions controls how a JSON dump is compared.
type JSONAssertOptions struct {
	// IgnoreExtraKeys drops object keys the expected document does not name,
	// so tests can check only the fields they care about.
	IgnoreExtraKeys bool `default:"true"`
	// IgnoredFields are removed at every level on both sides, e.g. "path".
	IgnoredFields []string
}

// JSONOption configures a JSONAsserter.
type JSONOption func(*JSONAssertOptions)

// WithIgnoreExtraKeys sets JSONAssertOptions.IgnoreExtraKeys.
func WithIgnoreExtraKeys(ignore bool) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = ignore }
}

// WithIgnoredFields sets JSONAssertOptions.IgnoredFields.
func WithIgnoredFields(fields ...string) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoredFields = fields }
}

// JSONAsserter compares the newline-delimited JSON written by the dumper
// against expected documents, structurally.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

// NewJSONAsserter creates a JSONAsserter with default options.
func NewJSONAsserter(t TestingT) *JSONAsserter {
	ja := &JSONAsserter{t: t}
	defaults.SetDefaults(&ja.options)
	return ja
}

// WithOptions applies functional options.
func (ja *JSONAsserter) WithOptions(opts ...JSONOption) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

// Assert compares one JSON document against the expected one.
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) {
	if diff := ja.Diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
	}
}

// AssertLines compares one document per line, in order. Blank lines are ignored.
func (ja *JSONAsserter) AssertLines(actual string, expected ...string) {
	var docs []string
	for _, l := range strings.Split(actual, "\n") {
		if strings.TrimSpace(l) != "" {
			docs = append(docs, l)
		}
	}
	if len(docs) != len(expected) {
		ja.t.Errorf("JSON assertion failed: expected %d documents, got %d:\n%s", len(expected), len(docs), actual)
		return
	}
	for i, doc := range docs {
		if diff := ja.Diff(doc, expected[i]); diff != "" {
			ja.t.Errorf("JSON assertion failed for document %d:\n%s", i, diff)
		}
	}
}

// Diff returns a readable difference, or "" when the documents match.
func (ja *JSONAsserter) Diff(actualJSON, expectedJSON string) string {
	var expected, actual map[string]interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	drop(expected, ja.options.IgnoredFields)
	drop(actual, ja.options.IgnoredFields)
	if ja.options.IgnoreExtraKeys {
		restrict(actual, expected)
	}

	diff := gojsondiff.New().CompareObjects(expected, actual)
	if !diff.Modified() {
		return ""
	}
	out, err := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
	}).Format(diff)
	if err != nil {
		return fmt.Sprintf("JSON documents differ (%v)", err)
	}
	return out
}

// drop deletes keys at any depth.
func drop(v interface{}, keys []string) {
	if len(keys) == 0 {
		return
	}
	switch node := v.(type) {
	case map[string]interface{}:
		for _, k := range keys {
			delete(node, k)
		}
		for _, child := range node {
			drop(child, keys)
		}
	case []interface{}:
		for _, child := range node {
			drop(child, keys)
		}
	}
}

// restrict deletes from actual every object key that expected does not have,
// walking both documents in parallel.
func restrict(actual, expected interface{}) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for k := range act {
			if _, keep := exp[k]; !keep {
				delete(act, k)
			}
		}
		for k, child := range exp {
			restrict(act[k], child)
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := 0; i < len(exp) && i < len(act); i++ {
			restrict(act[i], exp[i])
		}
	}
}
