// Package routeros implements a connection engine for the MikroTik
// RouterOS API: a single goroutine owns the TCP socket and multiplexes
// any number of concurrently submitted, tagged commands over it.
//
// Use [Connect] to dial and authenticate, [Client.Send] to submit
// commands, and [Client.Close] to shut the connection down. See
// [github.com/tzrikka/gorouteros/pkg/proto] for the wire format this
// package drives.
package routeros
