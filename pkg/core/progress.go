package core

import (
	"encoding/json"
)

// TaskProgress is the progress or terminal payload of a task. The
// counter fields describe the per-student loop; the exception fields
// appear only on FAILURE payloads. Keys this module does not recognize
// survive an unmarshal/marshal round-trip untouched.
type TaskProgress struct {
	ActionName string
	Attempted  int
	Succeeded  int
	Skipped    int
	Failed     int
	Total      int
	DurationMS int64
	Step       string
	Exception  string
	Message    string
	Traceback  string

	// Extra carries unrecognized keys through a round-trip.
	Extra map[string]json.RawMessage
}

// counterPayload reports whether the payload describes a row loop (as
// opposed to a bare failure or revocation message). Counter fields are
// serialized only for counter payloads so a FAILURE payload stays a
// minimal {exception, message, traceback} object.
func (p *TaskProgress) counterPayload() bool {
	return p.ActionName != ""
}

// MarshalJSON serializes the payload with snake_case keys. Map-based
// marshaling keeps key order sorted, which makes repeated status
// projections byte-identical.
func (p *TaskProgress) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 12+len(p.Extra))
	for k, v := range p.Extra {
		out[k] = v
	}
	if p.counterPayload() {
		out["action_name"] = p.ActionName
		out["attempted"] = p.Attempted
		out["succeeded"] = p.Succeeded
		out["skipped"] = p.Skipped
		out["failed"] = p.Failed
		out["total"] = p.Total
		out["duration_ms"] = p.DurationMS
	}
	if p.Step != "" {
		out["step"] = p.Step
	}
	if p.Exception != "" {
		out["exception"] = p.Exception
	}
	if p.Message != "" {
		out["message"] = p.Message
	}
	if p.Traceback != "" {
		out["traceback"] = p.Traceback
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes known keys into fields and stashes everything
// else in Extra.
func (p *TaskProgress) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = TaskProgress{}
	take := func(key string, dst any) error {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		delete(raw, key)
		return json.Unmarshal(v, dst)
	}
	if err := take("action_name", &p.ActionName); err != nil {
		return err
	}
	if err := take("attempted", &p.Attempted); err != nil {
		return err
	}
	if err := take("succeeded", &p.Succeeded); err != nil {
		return err
	}
	if err := take("skipped", &p.Skipped); err != nil {
		return err
	}
	if err := take("failed", &p.Failed); err != nil {
		return err
	}
	if err := take("total", &p.Total); err != nil {
		return err
	}
	if err := take("duration_ms", &p.DurationMS); err != nil {
		return err
	}
	if err := take("step", &p.Step); err != nil {
		return err
	}
	if err := take("exception", &p.Exception); err != nil {
		return err
	}
	if err := take("message", &p.Message); err != nil {
		return err
	}
	if err := take("traceback", &p.Traceback); err != nil {
		return err
	}
	if len(raw) > 0 {
		p.Extra = raw
	}
	return nil
}

// Encode returns the payload as a JSON string suitable for the
// record's output column. Marshaling can only fail on malformed
// Extra values; those collapse to an empty object.
func (p *TaskProgress) Encode() string {
	b, err := json.Marshal(p)
	if err != nil {
		return "{}"
	}
	return string(b)
}
