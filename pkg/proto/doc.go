// Package proto implements the MikroTik RouterOS API wire format: the
// variable-length word framing, the word/sentence model, the
// sentence-to-response parser, and the tagged command builder.
//
// It has no knowledge of sockets or connections; see [github.com/tzrikka/gorouteros/pkg/routeros]
// for the connection engine that drives this codec over a TCP stream.
package proto
