// Package httpapi exposes the engine over HTTP.
//
// Public routes ingest sensor events and report zone status; admin routes
// require the X-Admin-Key header. Responses use the envelope
// {"success": true, ...} or {"success": false, "error": "..."}.
// GET /api/stream upgrades to a websocket that relays every notification
// published on the event bus.
package httpapi
