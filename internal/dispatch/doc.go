// Package dispatch turns an ask request into an agent run.
//
// A request is validated, its prompt assembled (file injection, output-file
// wrapping) and the agent's argument vector built. Then either:
//   - background: the process is handed to the job registry and the caller
//     gets a job id to wait on, check or kill;
//   - foreground: the call blocks until the agent exits or times out, the
//     output is checked for rate-limit and model errors, and the response
//     goes through the exchange (inline, saved to a file, or written to the
//     requested output file).
//
// Failures the caller should see (agent errors, empty responses, missing
// CLIs) come back as a Reply with IsError set. Returned errors are reserved
// for invalid input and cancellation.
package dispatch
