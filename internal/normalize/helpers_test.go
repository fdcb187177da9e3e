package normalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func mustDecode(t *testing.T, s string) any {
	t.Helper()
	v, ok := decodeJSON(s)
	require.True(t, ok, "invalid json in test fixture: %s", s)
	return v
}
