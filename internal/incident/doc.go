// Package incident defines the shared data model of the remediation
// pipeline: the immutable envelope a caller submits, the mutable record the
// ledger owns, the status state machine, the append-only event log, and the
// per-stage artifacts.
//
// The package has no dependencies on other sentinel packages; every other
// layer builds on it.
package incident
