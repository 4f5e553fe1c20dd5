package gradereport

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// timestampLayout renders the artifact timestamp as YYYY-MM-DD-HHMM.
const timestampLayout = "2006-01-02-1504"

// sanitizeCourseID makes a course id filesystem-safe. Each path
// segment is URL-quoted and the segments are joined with underscores.
func sanitizeCourseID(courseID string) string {
	parts := strings.Split(courseID, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "_")
}

// ReportNames returns the artifact names for the grade report and its
// companion error report. The error report shares the base name with
// an _err marker before the extension.
func ReportNames(courseID string, ts time.Time) (report, errReport string) {
	base := fmt.Sprintf("%s_grade_report_%s", sanitizeCourseID(courseID), ts.UTC().Format(timestampLayout))
	return base + ".csv", base + "_err.csv"
}
