// Package common provides core data structures and utilities shared by the
// proxy's protocol, transport and command packages.
//
// Key Components:
//
//   - Datagram: the unit of the agent protocol, a Header (magic code, version,
//     correlation id, flag, command code and string properties) plus an opaque
//     body. Inbound datagrams borrow a pooled buffer that is returned with
//     Release, exactly once no matter how often Release is called.
//
//   - CommandCode: the command codes understood by the proxy.
//
//   - ServerConfig / ClientConfig: configuration of the proxy and of the agent
//     debug client, with String() pretty printers for startup logs.
//
//   - Logger: a dragonboat logger.ILogger implementation giving every package
//     logger the same "LEVEL | name | message" format.
package common
