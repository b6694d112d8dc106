// Package gate decides whether an inbound message is authorized to trigger a
// response. It combines direct-message policy, group policy, allow-lists,
// mention detection, trigger prefixes, and control-command authorization
// into a single pure decision function.
package gate
