// Package messenger turns typed requests into framed packets on one
// transport connection and reads typed messages back.
//
// Ownership boundary:
// - outbound: message id, plain envelope, outer envelope, transport write
// - inbound: transport read, outer unwrap, plain envelope checks, payload decode
// - request/response wait with a fixed budget
//
// A messenger owns its transport, envelope codec, id generator and payload
// codec for its whole life. One reader and one writer at a time; at most one
// response wait in flight.
package messenger
