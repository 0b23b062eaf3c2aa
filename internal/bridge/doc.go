// Package bridge runs one worker subprocess per request and maps its
// termination onto a Result or a typed error.
//
// Each Execute call owns exactly one invocation:
//   - The payload {"message": ...} is written to the worker's stdin, which is then closed
//   - stdout and stderr are drained concurrently with the stdin write
//   - Output is capped (stdout 1 MiB, stderr 64 KiB by default); excess is read and dropped
//   - A timer bounds the run; on expiry the process group gets SIGTERM, then SIGKILL after a grace period
//
// Outcome mapping:
//   - Launch failure → *SpawnError
//   - Timer expiry → *TimeoutError
//   - Caller context done → *CanceledError
//   - Pipe read or wait failure → *StreamError
//   - Exit 0 → KindAnswer, or KindEmpty when stdout is blank
//   - Exit != 0 with stderr → KindWorkerFailure
//   - Exit != 0 without stderr → same as exit 0
//
// Invocation states move NotStarted → Started → one terminal state. The
// first terminal state wins; later attempts to resolve are ignored.
package bridge
