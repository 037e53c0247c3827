// Package automation turns classifier-produced goals into device
// commands. Normalize maps free-text app names and system-control
// phrasing onto the canonical command vocabulary; the Router executes
// a goal's steps strictly sequentially, halting on the first step
// whose dispatch or result fails. There are no automatic retries:
// failures come back with recovery options and the decision belongs
// to the caller.
package automation
