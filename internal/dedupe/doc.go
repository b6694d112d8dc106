// Package dedupe provides message-identifier deduplication using a bounded,
// sliding-TTL cache so redelivered events are processed at most once within
// the configured window.
package dedupe
