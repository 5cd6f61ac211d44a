// Package rpc implements the agent facing side of the proxy: the binary
// datagram protocol, the connection handling and the dispatch of inbound
// datagrams to processors.
//
// The package is organized into several subpackages:
//
//   - common: Datagram and command codes, configuration structures and logging.
//
//   - codec: Length prefixed frame encoding of datagrams with pooled read buffers.
//
//   - transport: TCP server handing every connection to a Handler as a Channel,
//     plus the agent side client. Collects traffic statistics.
//
//   - router: Static command code to processor table. Greets new channels with
//     a config fetch and drops unknown codes.
//
//   - processor: Heartbeat and agent info processors and the agent registry.
package rpc
