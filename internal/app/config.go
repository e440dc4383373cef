package app

import "time"

// Storage backend names accepted by Config.Storage.
const (
	StorageFile      = "file"
	StorageMemory    = "memory"
	StorageEncrypted = "encrypted"
	StorageSQLite    = "sqlite"
)

// Config holds runtime wiring options for building the app.
type Config struct {
	Home           string        // state directory, e.g. $HOME/.bloom
	Relays         []string      // default relays for new invitations
	Storage        string        // file | memory | encrypted | sqlite
	Passphrase     string        // required when Storage is encrypted
	RequestTimeout time.Duration // zero keeps the queue default
	LogLevel       string        // debug, info, warn, error
	LogFormat      string        // json or console
}
