// Package httputil holds the JSON response and request helpers shared by the
// API handlers and the webhook receiver.
package httputil
