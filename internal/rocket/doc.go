// Package rocket is a narrow Rocket.Chat REST client: credential refresh,
// room/user metadata lookups, and text/file delivery. The ingestion pipeline
// consumes it through small interfaces so tests can fake it.
package rocket
