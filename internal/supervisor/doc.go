// Package supervisor adapts an external process-supervision daemon
// (supervisord) into the narrow capabilities the engine needs: list the
// managed processes, submit a new one-shot job from a generated descriptor,
// and stop a job. The daemon only offers a free-text status listing, so the
// parsing heuristics live here and nowhere else.
package supervisor
