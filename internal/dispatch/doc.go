// Package dispatch tracks tasks from creation to their reported
// outcome. Dispatch hands a task to the transport hub and records it
// as pending; ReportResult accepts the owning device's outcome, first
// report wins. AwaitResult polls for a result until a deadline and
// returns a distinct timeout error, because an unanswered task has an
// unknown outcome, not a failed one.
package dispatch
