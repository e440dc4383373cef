// Package commands implements the bloom CLI.
//
// Every command is a thin consumer of the signer service facade; protocol
// behavior lives in the internal packages.
package commands
