// Package proto implements the agent<->tunnel-server control wire protocol:
// big-endian codec primitives, the typed RPC request/response/feed messages,
// the HMAC tag type, the RPC envelope, and the Socket/SocketFlow types.
//
// Every value in this package exposes an Encode method that appends its
// wire form to a caller-supplied buffer, and a Decode function that reads
// one value from the front of a byte slice and reports how many bytes it
// consumed. No value here performs I/O; that belongs to internal/tunnel
// and internal/signclient.
package proto
