// Package router is the single point of inbound dispatch for agent connections.
//
// A Router is built once from a list of processors, each declaring the command
// codes it serves. Two processors claiming the same code is a construction
// error. When a connection becomes active the Router sends a pid config fetch
// request carrying the agent ip (and whatever the configured enrichers add)
// in its header properties. Inbound datagrams are handed to the processor of
// their command code. Unknown codes are released and logged as warnings,
// never treated as fatal, so older and newer agents can keep talking to the
// proxy.
package router
