// Package taskkey derives the idempotency key used by the reservation
// to enforce at-most-one concurrent run per operation target.
package taskkey

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/campusworks/coursetasks/pkg/core"
)

// Encode returns the 32-hex-digit key for (problemURL, student) along
// with the input payload to persist on the record. Student is the
// submitted username, or empty for course-wide operations; grade
// reports pass an empty problem URL. The same inputs always produce
// the same key and the encoder never fails.
func Encode(problemURL, student string) (string, core.TaskInput) {
	// The digest input must be stable: "{student_or_empty}_{problem}".
	canonical := fmt.Sprintf("%s_%s", student, problemURL)
	sum := md5.Sum([]byte(canonical))
	key := hex.EncodeToString(sum[:])

	return key, core.TaskInput{ProblemURL: problemURL, Student: student}
}
