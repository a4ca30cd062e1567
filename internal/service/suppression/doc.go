// Package suppression implements the per-project suppression list.
//
// The list is the deny-list of contacts that must never receive further
// sends. Entries arrive from provider feedback (hard bounces, complaints),
// manual admin actions, and imports, and are consulted before any message
// job is created.
//
// The service layer contains pure business logic and depends on the
// Repository interface defined in repository.go. It never imports
// net/http or database/sql directly.
package suppression
