// Package store provides persistence for the session snapshot.
//
// All variants implement domain.SnapshotStore over the single document
// keyed bloom.nip46.sessions.v1. Loads tolerate a missing or corrupt
// document by returning a nil snapshot; EncryptedStore instead fails when
// its envelope does not open (wrong passphrase or damaged envelope).
// FileStore and EncryptedStore treat write failures as quota exhaustion and
// disable further writes for the process lifetime instead of failing every
// mutation; SQLiteStore returns its write errors.
//
// The package includes:
//   - FileStore: plain JSON document on disk
//   - MemoryStore: in-process, deep-cloning on both load and save
//   - EncryptedStore: passphrase-protected envelope around the JSON document
//   - SQLiteStore: the document in a key/value table
package store
