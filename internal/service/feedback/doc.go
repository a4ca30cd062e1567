// Package feedback applies provider delivery events (bounces, complaints,
// deliveries, opens, clicks) to message jobs and the suppression list.
//
// Input events are already normalized by a provider adapter; this package
// is provider-agnostic.
package feedback
