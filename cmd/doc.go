// Package cmd implements the command-line interface of dProxy. It provides a
// hierarchical command structure for running the proxy and for poking at its
// parts by hand.
//
// The package is organized into several subpackages:
//
//   - serve: Starts the proxy (agent endpoint plus optional metrics endpoint)
//   - session: Connects to the diagnostics process of an app (get, try)
//   - port: Prints or resets the negotiated telnet port of an app
//   - agent: Plays the agent side of a connection against a running proxy
//   - util: Shared flags, configuration and component wiring (internal use)
//
// Every flag can also be set through an environment variable DPROXY_<FLAG>,
// with dashes replaced by underscores. .env and .env.local are loaded first.
//
// See dproxy -help for a list of all commands.
package cmd
