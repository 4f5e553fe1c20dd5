// Package runner executes course task bodies on worker processes.
//
// Every operation shares one wrapper: load the record, verify the
// engine task id, run the body, persist the outcome. The rescore,
// reset and delete operations walk matching per-student state rows
// through a common visitor; grade reports delegate to the gradereport
// pipeline.
package runner
