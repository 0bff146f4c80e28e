// Package session owns connection-level settings shared by transports and
// messengers.
//
// Ownership boundary:
// - response wait budget and poll delay
// - transport read/write/connect timeouts
// - connect retry backoff
package session
