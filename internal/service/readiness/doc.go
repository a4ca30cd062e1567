// Package readiness scores how much a project can be trusted to send.
//
// Five independent sub-scores (domain verification, list hygiene,
// organisation history, compliance, abuse signals) are computed
// concurrently and summed into a 0-100 total, which maps to an
// ALLOW / THROTTLED / BLOCKED gate. Override rules can only make the
// outcome more restrictive.
package readiness
