// Package ledger records per-request token consumption over a rolling window.
//
// # Overview
//
// A Ledger holds one Entry per admitted request. An entry starts life as an
// estimate (recorded at admission time from a conservative forecast) and is
// replaced exactly once by a confirmed entry carrying the measured usage, or
// removed when the request fails. Running token and request aggregates are
// kept in step with the entries so capacity checks are O(1).
//
// # Expiry
//
// Sweep drops confirmed entries older than the window. Estimate entries are
// never swept: they represent in-flight reservations and must reach a
// terminal state through Replace or Remove.
//
// # Usage
//
//	l := ledger.New(time.Minute)
//
//	entry := ledger.Estimate(id, 120, 256, time.Now())
//	load, ok, err := l.TryAppend(entry, ledger.Ceiling{Tokens: 100000, Requests: 500})
//
//	// after the call returns
//	delta, held, err := l.Replace(id, ledger.Confirmed(id, 98, 201, time.Now()))
//
// # Thread Safety
//
// All operations take a single mutex that covers both the entries and the
// aggregates, so a Load is always consistent with the entries it describes.
package ledger
