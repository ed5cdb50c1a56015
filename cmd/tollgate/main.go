// Tollgate is a policy compliance gate for CI pipelines.
//
// It reads governance evidence kept in the repository (policy catalog,
// exception and risk registers, access review status, vendor and commit
// reports), derives compliance metrics from it, applies approved and
// unexpired exceptions, and fails the build when a blocking rule is
// violated. Every decision is appended to a hash-chained audit log.
//
// Usage:
//
//	# Evaluate the embedded default gate against the working directory
//	tollgate evaluate
//
//	# Evaluate a custom gate with a stricter threshold
//	tollgate evaluate --config gate.yaml --min-policy-completion 100
//
//	# Re-evaluate on evidence changes and serve metrics
//	tollgate watch --schedule "*/15 * * * *"
//
//	# Check the audit trail has not been tampered with
//	tollgate audit verify
//
// Exit codes: 0 pass, 1 gate failed, 2 required evidence corrupt or
// unreadable, 3 audit log could not be written, 4 invalid configuration
// or usage.
package main

func main() {
	Execute()
}
