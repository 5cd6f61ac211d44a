// Package transport carries agent protocol frames over TCP.
//
// The Server accepts agent connections and runs one goroutine per connection.
// Frames of a connection are decoded with the codec package and handed to the
// Handler one after another, so a Handler sees each connection's datagrams in
// arrival order while serving many connections concurrently. Every connection
// is represented by a Channel holding the per-connection state: its uuid, the
// peer ip and a write lock serializing outbound frames.
//
// A frame that can not be decoded (bad magic code, malformed header, too large)
// closes the connection. Unknown command codes are not a transport concern.
//
// The Client is the agent side of a connection, used by tests and by the
// `dproxy agent ping` command.
//
// Traffic statistics (frames in/out, active channels, decode errors) are kept
// in a go-metrics registry and can be logged periodically with ReportEvery.
package transport
