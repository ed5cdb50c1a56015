// Package metric derives compliance metrics from loaded evidence.
//
// Five derivations are supported:
//
//   - completion: min(100, floor(observed*100/target)). The target is a
//     configured constant, or the unfiltered record count when
//     target_total is set. Floor is used so a fractional shortfall never
//     reads as complete. Records sharing an identifier count once.
//   - count: the number of records matching every filter.
//   - value: the numeric or boolean value of a key/value entry.
//   - expiry: the number of canonical dates that lie before the
//     evaluation clock. Unparseable dates count as not expired and raise
//     a date_parse warning.
//   - staleness: hours elapsed since a timestamp, or since the oldest one.
//
// A metric whose source is absent, corrupt, or unreadable is unavailable.
// Unavailable is reported separately from zero so rules can tell "no
// violations" apart from "no data".
//
// Calculators are pure: the same evidence and clock always produce the same
// metrics.
package metric
