// Package metacache provides a short-TTL get-or-fetch cache for room and
// user metadata, decoupling the message hot path from repeated REST lookups.
// Failed lookups are cached as a not-found sentinel with a shorter TTL so a
// failing endpoint isn't hammered.
package metacache
