// Package waiver resolves exception register entries into waivers.
//
// A waiver is valid only while its status is Approved and its expiry date
// lies after the evaluation time. A waiver past its expiry is never valid,
// whatever its status says. A waiver whose expiry date cannot be parsed is
// never valid either.
//
// When several valid waivers cover the same identifier, the latest expiry
// wins and ties go to the lowest waiver ID, so resolution is deterministic.
// The ambiguity is logged and reported on the Resolution.
package waiver
