package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedactSensitiveFieldNames(t *testing.T) {
	r := NewRedactor(true)
	out := r.Redact(map[string]any{
		"password":      "hunter2",
		"api_key":       "sk-abc123",
		"Authorization": "Bearer xyz",
		"note":          "ordinary value",
	})
	m := out.(map[string]any)
	require.Equal(t, redactSentinel, m["password"])
	require.Equal(t, redactSentinel, m["api_key"])
	require.Equal(t, redactSentinel, m["Authorization"])
	require.Equal(t, "ordinary value", m["note"])
}

func TestRedactPIIPatterns(t *testing.T) {
	r := NewRedactor(true)
	out := r.Redact(map[string]any{
		"message": "contact jane.doe@example.com or call 415-555-0134",
	})
	m := out.(map[string]any)
	require.NotContains(t, m["message"], "jane.doe@example.com")
}

func TestRedactDepthLimit(t *testing.T) {
	r := NewRedactor(true)
	nested := map[string]any{}
	cursor := nested
	for i := 0; i < maxRedactDepth+3; i++ {
		next := map[string]any{}
		cursor["child"] = next
		cursor = next
	}
	cursor["leaf"] = "deep value"

	out := r.Redact(map[string]any{"root": nested})
	require.NotNil(t, out)
}

func TestRedactDisabled(t *testing.T) {
	r := NewRedactor(false)
	in := map[string]any{"password": "hunter2"}
	out := r.Redact(in)
	require.Equal(t, "hunter2", out.(map[string]any)["password"])
}
