package status

import (
	"fmt"

	"github.com/campusworks/coursetasks/pkg/core"
)

// noStatusMessage is reported when a finished record carries no
// usable output.
const noStatusMessage = "No status information available"

// Narrate maps a terminal record to a human-readable outcome. It is
// total: every terminal record yields a message.
func Narrate(rec *core.TaskRecord) (succeeded bool, message string) {
	if rec.OutputJSON == "" {
		return false, noStatusMessage
	}
	out, err := rec.Output()
	if err != nil {
		return false, noStatusMessage
	}

	if rec.State == core.StateFailure || rec.State == core.StateRevoked {
		if out.Message == "" {
			return false, noStatusMessage
		}
		return false, out.Message
	}

	in, _ := rec.Input()
	action := out.ActionName

	if in.Student != "" {
		switch {
		case out.Attempted == 0:
			succeeded = false
			message = fmt.Sprintf("Unable to find submission to be %s for student '%s'", action, in.Student)
		case out.Succeeded == 0:
			succeeded = false
			message = fmt.Sprintf("Problem failed to be %s for student '%s'", action, in.Student)
		default:
			succeeded = true
			message = fmt.Sprintf("Problem successfully %s for student '%s'", action, in.Student)
		}
		if out.Attempted != out.Total {
			message += fmt.Sprintf(" (out of %d)", out.Total)
		}
		return succeeded, message
	}

	switch {
	case out.Attempted == 0:
		return false, fmt.Sprintf("Unable to find any students with submissions to be %s", action)
	case out.Succeeded == 0:
		return false, fmt.Sprintf("Problem failed to be %s for any of %d students", action, out.Attempted)
	case out.Succeeded == out.Attempted:
		return true, fmt.Sprintf("Problem successfully %s for %d students", action, out.Attempted)
	default:
		return false, fmt.Sprintf("Problem %s for %d of %d students", action, out.Succeeded, out.Attempted)
	}
}
