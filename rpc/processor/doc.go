// Package processor contains the command processors registered with the router.
//
//   - Heartbeat answers agent heartbeats.
//   - AgentInfo stores the properties agents report (app code, pid, agent
//     version, ...) in the meta stores and keeps the Registry of connected
//     agents up to date.
//
// Every processor releases the datagrams it is given.
package processor
