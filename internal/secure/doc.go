// Package secure keeps secret material out of ordinary Go memory.
//
// Secrets loaded for a local scan are sealed into memguard enclaves as soon
// as they are parsed. An enclave is encrypted at rest (XSalsa20Poly1305) and
// only decrypted into an mlocked, guard-paged buffer while a scan needs the
// plaintext:
//
//	buf, err := secure.NewSecureBuffer([]byte("sk-live-..."))
//	if err != nil {
//	    return err
//	}
//	defer buf.Destroy()
//
//	locked, err := buf.Open()
//	if err != nil {
//	    return err
//	}
//	defer locked.Destroy()
//
// If mlock is unavailable (RLIMIT_MEMLOCK on Linux), memguard degrades to
// ordinary memory rather than failing.
//
// Call memguard.Purge (via Purge) before the process exits to wipe every
// remaining buffer.
package secure
