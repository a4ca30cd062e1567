// Package campaign implements the campaign lifecycle: creation behind the
// readiness gate, per-recipient job fan-out, and the admin transitions
// (approve, cancel, pause, resume) of the campaign state machine.
//
// SENDING and COMPLETED are written by the delivery worker and the
// scheduler, never by this package.
//
// Repository implementations live in repository/postgres/.
package campaign
