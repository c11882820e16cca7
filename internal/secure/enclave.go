package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// Token is an opaque, immutable session token held in a memguard enclave.
// The zero value and tokens built from an empty string are "empty".
type Token struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	destroyed bool
}

// NewToken seals raw into a new enclave. The caller keeps ownership of raw.
func NewToken(raw string) *Token {
	t := &Token{}
	if raw == "" {
		return t
	}
	// NewEnclave copies and wipes its argument, so hand it a private copy.
	buf := []byte(raw)
	t.enclave = memguard.NewEnclave(buf)
	return t
}

// Empty reports whether the token carries no value.
func (t *Token) Empty() bool {
	if t == nil {
		return true
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enclave == nil || t.destroyed
}

// With opens the enclave, passes the plaintext to fn and wipes it afterwards.
// fn must not retain the slice. An empty token passes a nil slice.
func (t *Token) With(fn func([]byte) error) error {
	if t.Empty() {
		return fn(nil)
	}

	t.mu.RLock()
	enclave := t.enclave
	t.mu.RUnlock()

	locked, err := enclave.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()

	return fn(locked.Bytes())
}

// Reveal returns the plaintext as a string. Prefer With where the caller can
// scope the plaintext; CLI adapters need a string argument for the child
// process, which is the one place this is used.
func (t *Token) Reveal() string {
	var out string
	_ = t.With(func(b []byte) error {
		out = string(b)
		return nil
	})
	return out
}

// Destroy drops the enclave. It is idempotent.
func (t *Token) Destroy() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enclave = nil
	t.destroyed = true
}

// String never reveals the token.
func (t *Token) String() string {
	return "[REDACTED]"
}

// GoString never reveals the token.
func (t *Token) GoString() string {
	return "[REDACTED]"
}

// Purge wipes all memguard state. Call once on process exit.
func Purge() {
	memguard.Purge()
}
