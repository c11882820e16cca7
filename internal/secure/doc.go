// Package secure keeps session tokens out of plain Go memory.
//
// Tokens resolved by the session manager are sealed in a memguard enclave
// (XSalsa20Poly1305, mlocked where the platform allows it) and only opened
// for the duration of a backend call:
//
//	tok := secure.NewToken(raw)
//	defer tok.Destroy()
//
//	err := tok.With(func(b []byte) error {
//	    return runBackendCall(string(b))
//	})
//
// A Token never prints its contents; String and GoString return a redaction
// marker so an accidental %v in a log line does not leak it.
//
// Call memguard.Purge (via Purge) on process exit to wipe any remaining
// enclave keys.
package secure
