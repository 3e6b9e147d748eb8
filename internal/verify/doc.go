// Package verify runs the external identity verification program.
//
// Each call spawns the configured command with two trailing arguments, the
// scanned identifier and the absolute reference directory, and maps the child's
// exit status to an Outcome. Output is captured for logs and never parsed.
//
// Timeout handling:
//   - Each run has a hard ceiling (verifier.timeout, default 30s)
//   - On expiry the child's process group is sent SIGTERM, then SIGKILL after
//     verifier.kill_grace (0 means SIGKILL straight away)
//   - The child is always reaped before Verify returns
//
// Outcomes:
//   - exit 0 → verified
//   - any other exit status → rejected
//   - ceiling reached → timed_out
//   - spawn failure or caller cancellation → error
//
// Only verified passes. Verify never returns an error; failures are folded
// into the Result.
package verify
