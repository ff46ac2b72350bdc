// Package engine orchestrates run submission. It checks the user's idle
// state, creates the run record and submission file, and hands the job to
// the process manager, all inside the gate's critical section. It also
// kills a user's active jobs and starts or stops their virtual machine.
// Every attempt is journaled and published to subscribers of the user's
// event stream.
package engine
