// Package schedule provides scheduling for recurring course task
// submissions, such as a nightly grade report.
//
// This package includes:
//   - Schedule interface for defining recurrence
//   - Every() for fixed-interval schedules
//   - Daily() for daily schedules at a specific time
//   - Weekly() for weekly schedules on a specific day and time
//   - Cron() for cron expression-based schedules
package schedule
