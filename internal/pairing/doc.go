// Package pairing persists direct-message pairing requests and approvals.
// Under the "pairing" DM policy an unknown sender gets a one-time code;
// approving the code adds the sender to the effective allow-list.
package pairing
