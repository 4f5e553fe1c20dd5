package status

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/campusworks/coursetasks/pkg/core"
)

func terminalRecord(state core.TaskState, inputJSON, outputJSON string) *core.TaskRecord {
	return &core.TaskRecord{
		State:      state,
		Kind:       core.OpRescoreProblem,
		InputJSON:  inputJSON,
		OutputJSON: outputJSON,
	}
}

func counterOutput(attempted, succeeded, total int) string {
	return fmt.Sprintf(`{"action_name":"rescored","attempted":%d,"succeeded":%d,"skipped":0,"failed":%d,"total":%d,"duration_ms":10}`,
		attempted, succeeded, attempted-succeeded, total)
}

func TestNarrate_SingleStudent(t *testing.T) {
	input := `{"problem_url":"p1","student":"alice"}`

	tests := []struct {
		name      string
		output    string
		succeeded bool
		message   string
	}{
		{
			name:    "no submission found",
			output:  counterOutput(0, 0, 0),
			message: "Unable to find submission to be rescored for student 'alice'",
		},
		{
			name:    "attempted but failed",
			output:  counterOutput(1, 0, 1),
			message: "Problem failed to be rescored for student 'alice'",
		},
		{
			name:      "succeeded",
			output:    counterOutput(1, 1, 1),
			succeeded: true,
			message:   "Problem successfully rescored for student 'alice'",
		},
		{
			name:      "succeeded with fewer attempted than total",
			output:    counterOutput(1, 1, 3),
			succeeded: true,
			message:   "Problem successfully rescored for student 'alice' (out of 3)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := terminalRecord(core.StateSuccess, input, tt.output)
			succeeded, message := Narrate(rec)
			assert.Equal(t, tt.succeeded, succeeded)
			assert.Equal(t, tt.message, message)
		})
	}
}

func TestNarrate_AllStudents(t *testing.T) {
	input := `{"problem_url":"p1"}`

	tests := []struct {
		name      string
		output    string
		succeeded bool
		message   string
	}{
		{
			name:    "no students found",
			output:  counterOutput(0, 0, 0),
			message: "Unable to find any students with submissions to be rescored",
		},
		{
			name:    "all failed",
			output:  counterOutput(4, 0, 4),
			message: "Problem failed to be rescored for any of 4 students",
		},
		{
			name:      "all succeeded",
			output:    counterOutput(4, 4, 4),
			succeeded: true,
			message:   "Problem successfully rescored for 4 students",
		},
		{
			name:    "partial success",
			output:  counterOutput(4, 3, 4),
			message: "Problem rescored for 3 of 4 students",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := terminalRecord(core.StateSuccess, input, tt.output)
			succeeded, message := Narrate(rec)
			assert.Equal(t, tt.succeeded, succeeded)
			assert.Equal(t, tt.message, message)
		})
	}
}

func TestNarrate_MissingOutput(t *testing.T) {
	succeeded, message := Narrate(terminalRecord(core.StateSuccess, `{"problem_url":"p1"}`, ""))
	assert.False(t, succeeded)
	assert.Equal(t, "No status information available", message)

	succeeded, message = Narrate(terminalRecord(core.StateSuccess, `{"problem_url":"p1"}`, "{not json"))
	assert.False(t, succeeded)
	assert.Equal(t, "No status information available", message)
}

func TestNarrate_FailureAndRevocationUsePayloadMessage(t *testing.T) {
	succeeded, message := Narrate(terminalRecord(core.StateFailure, `{"problem_url":"p1"}`,
		`{"exception":"Error","message":"something broke"}`))
	assert.False(t, succeeded)
	assert.Equal(t, "something broke", message)

	succeeded, message = Narrate(terminalRecord(core.StateRevoked, `{"problem_url":"p1"}`,
		`{"message":"Task revoked before running"}`))
	assert.False(t, succeeded)
	assert.Equal(t, "Task revoked before running", message)

	succeeded, message = Narrate(terminalRecord(core.StateFailure, `{"problem_url":"p1"}`, `{}`))
	assert.False(t, succeeded)
	assert.Equal(t, "No status information available", message, "failures without a message still narrate")
}
