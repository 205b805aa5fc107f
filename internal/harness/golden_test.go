package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenarioFiles(t *testing.T) []string {
	t.Helper()
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)
	return paths
}

func TestRunWithGolden_Testdata(t *testing.T) {
	for _, p := range scenarioFiles(t) {
		s, err := LoadScenario(p)
		require.NoError(t, err)
		t.Run(s.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "%v", result.Errors)
		})
	}
}

func TestMarshalTrace_Format(t *testing.T) {
	out, err := MarshalTrace("fmt", []TraceEvent{
		{Kind: "fetch_issued", Target: "users", Reason: "initial", RequestID: 1, Query: "limit=20&page=1"},
		{Kind: "debounce_armed", Target: "users", AtMS: 300},
	})
	require.NoError(t, err)

	s := string(out)
	assert.True(t, strings.HasSuffix(s, "}\n"))
	assert.Contains(t, s, `"query": "limit=20&page=1"`, "ampersands must not be escaped")
	assert.Contains(t, s, `"at_ms": 300`)
	assert.NotContains(t, s, `"request_id": 0`)
	assert.NotContains(t, s, `"error_kind"`)
}

func TestMarshalTrace_EmptyTrace(t *testing.T) {
	out, err := MarshalTrace("empty", []TraceEvent{})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"scenario_name\": \"empty\",\n  \"trace\": []\n}\n", string(out))
}
