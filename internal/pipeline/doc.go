// Package pipeline drives incidents through triage, investigation,
// patch-and-verify and approval packaging.
//
// Each Ingest or Retry call runs the driving algorithm synchronously on the
// caller's goroutine. Records live in the ledger; the engine mutates them
// only through ledger.Update while holding the incident's claim, so
// concurrent readers always observe consistent snapshots.
package pipeline
