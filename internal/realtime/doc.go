// Package realtime maintains the persistent streaming connection to the
// chat server: the connect/authenticate/subscribe handshake, keepalive
// ping/pong with a stale-connection watchdog, and a reconnect supervisor
// with backoff and reactive credential refresh.
package realtime
