// Package protocol models the Rocket.Chat realtime (DDP) wire frames as a
// closed set of tagged variants, with builders for the outbound handshake,
// login, subscription and keepalive frames.
package protocol
