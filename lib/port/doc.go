// Package port negotiates the local telnet port each application's diagnostics
// process listens on.
//
// Two modes exist. In fixed mode every application shares DefaultFixedPort (or
// the configured port). In dynamic mode each application gets its own port,
// persisted in a store.IStore under "<prefix>:<appCode>:telnet.port" so a
// restarted proxy reuses earlier assignments. Reset removes the assignment
// after a session on that port turned out to be unusable.
package port
