package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskProgress_PreservesUnknownKeys(t *testing.T) {
	in := []byte(`{"action_name":"rescored","attempted":3,"succeeded":2,"skipped":0,"failed":1,"total":3,"duration_ms":1200,"report_url":"https://example.com/r.csv"}`)

	var p TaskProgress
	require.NoError(t, json.Unmarshal(in, &p))
	assert.Equal(t, "rescored", p.ActionName)
	assert.Equal(t, 3, p.Attempted)
	assert.Contains(t, p.Extra, "report_url")

	out, err := json.Marshal(&p)
	require.NoError(t, err)
	assert.JSONEq(t, string(in), string(out))
}

func TestTaskProgress_FailurePayloadStaysMinimal(t *testing.T) {
	p := &TaskProgress{
		Exception: "ZeroDivisionError",
		Message:   "bad things happened",
		Traceback: "stack...",
	}
	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"exception":"ZeroDivisionError","message":"bad things happened","traceback":"stack..."}`, string(out))
}

func TestTaskProgress_MarshalIsDeterministic(t *testing.T) {
	p := &TaskProgress{ActionName: "reset", Attempted: 5, Succeeded: 2, Skipped: 3, Total: 5, DurationMS: 40}
	first, err := json.Marshal(p)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := json.Marshal(p)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}
