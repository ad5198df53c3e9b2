// Package spawner starts agent subprocesses and owns their termination.
//
// Two invocation modes share one start path:
//   - RunForeground blocks until the process exits or its timeout elapses,
//     capturing stdout/stderr through bounded buffers
//   - RunBackground returns a live *Process immediately; the caller attaches
//     its own sinks and exit observers
//
// Every started process is tracked in the spawner's active set until its
// exit is observed, so TerminateAll can escalate every live child at
// shutdown regardless of which mode started it.
//
// Termination escalation:
//   - Unix: SIGTERM, then SIGKILL after the grace period (3s default) unless
//     the process exits first; the pending SIGKILL timer is stopped on exit
//   - Windows: a single forced tree kill via taskkill /T /F
//
// Error handling:
//   - The OS could not start the process → *SpawnError (matches ErrSpawn)
//   - Non-zero exit → reported in Result/Exit, never an error
//   - Foreground timeout → ExitCode nil plus a timeout trailer on stderr
package spawner
