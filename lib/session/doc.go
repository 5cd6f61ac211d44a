// Package session manages connections to the diagnostics processes attached to
// target processes.
//
// The Store hands out sessions keyed by (app code, pid). A session is obtained
// in three steps, all under a single store-wide lock:
//
//  1. Connect to the negotiated port, assuming the process is already listening.
//  2. If that fails and an anchor exists for the key, connect once more.
//  3. Otherwise start the process through the Starter (exactly once per anchor)
//     and connect.
//
// If all of this fails the anchor is evicted, the port reset and an *InitError
// returned. Get additionally checks the version reported by the session. A
// mismatching process is shut down, evicted and its port reset, and the next
// attempt follows after a cancellable backoff. After MaxIllegalVersionCount
// mismatches Get fails with ErrIllegalVersion.
//
// Collaborators are injected as interfaces: Connector (see package telnet),
// Starter (see package launcher), PidResolver (see package pid) and
// PortResolver (see package port).
package session
