// Package driver runs a stage flow for one computation instance.
//
// Per stage: Pending -> Running -> Succeeded | Failed. A failed stage is
// retried until the retry budget is spent, after which the run is Aborted and
// the instance is left in whatever status the executor last set.
//
// Cancellation: an attempt interrupted by context cancellation is recorded as
// Cancelled and does not consume the retry budget. Re-invoking the runner for
// the same key resumes from the instance's current status.
package driver
