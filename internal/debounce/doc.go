// Package debounce coalesces bursts of rapid messages in one conversation
// into a single processing unit, so a user typing several quick lines
// produces one reply cycle instead of N.
package debounce
