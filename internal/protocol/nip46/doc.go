// Package nip46 implements the remote-signing wire protocol: the encrypted
// request/response payload codec and the two pairing URI schemes
// (nostrconnect:// for client-initiated pairings, bunker:// for
// signer-initiated ones).
package nip46
