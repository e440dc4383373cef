// Package app wires application dependencies for the CLI.
//
// It builds the concrete store, session manager, relay pool, and signer
// service from Config, exposing them via the Wire struct for commands to
// use.
package app
