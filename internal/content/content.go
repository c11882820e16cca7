// Package content turns local files into the single text payload stored in
// a backend item and back again.
//
// Payloads are canonicalized (CRLF and CR become LF) before fingerprinting,
// so the same secret checked out on different platforms compares equal.
package content

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Kind is how an item maps to local files.
type Kind string

const (
	KindFile         Kind = "file"
	KindSSHKeyPair   Kind = "ssh-key-pair"
	KindKeyValueFile Kind = "key-value-file"
)

// Kinds lists the supported kinds.
var Kinds = []Kind{KindFile, KindSSHKeyPair, KindKeyValueFile}

// ParseKind validates s.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown kind %q (want file, ssh-key-pair or key-value-file)", s)
}

// FingerprintPrefix marks the hash algorithm in a fingerprint.
const FingerprintPrefix = "sha256:"

// ErrIncomplete means some but not all of an item's local files exist.
var ErrIncomplete = errors.New("incomplete local item")

// Canonicalize converts CRLF and lone CR line endings to LF.
func Canonicalize(b []byte) []byte {
	if !bytes.ContainsRune(b, '\r') {
		return b
	}
	b = bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(b, []byte("\r"), []byte("\n"))
}

// Fingerprint returns sha256:<hex> of the canonical payload.
func Fingerprint(payload string) string {
	sum := sha256.Sum256(Canonicalize([]byte(payload)))
	return FingerprintPrefix + hex.EncodeToString(sum[:])
}

// Equal compares two payloads after canonicalization.
func Equal(a, b string) bool {
	return bytes.Equal(Canonicalize([]byte(a)), Canonicalize([]byte(b)))
}

// LocalPaths returns the files backing an item. An ssh-key-pair adds the
// ".pub" sibling; other kinds have exactly one path.
func LocalPaths(kind Kind, path string) []string {
	if kind == KindSSHKeyPair {
		return []string{path, path + ".pub"}
	}
	return []string{path}
}

// Encode builds the payload from the item's files, in LocalPaths order.
func Encode(kind Kind, files [][]byte) (string, error) {
	switch kind {
	case KindFile, KindKeyValueFile:
		if len(files) != 1 {
			return "", fmt.Errorf("%s expects 1 file, got %d", kind, len(files))
		}
		return string(Canonicalize(files[0])), nil
	case KindSSHKeyPair:
		if len(files) != 2 {
			return "", fmt.Errorf("%s expects 2 files, got %d", kind, len(files))
		}
		priv := string(Canonicalize(files[0]))
		if !strings.Contains(priv, "-----END") {
			return "", fmt.Errorf("private key has no -----END armor line")
		}
		if !strings.HasSuffix(priv, "\n") {
			priv += "\n"
		}
		return priv + string(Canonicalize(files[1])), nil
	}
	return "", fmt.Errorf("unknown kind %q", kind)
}

// Decode splits a payload into file contents, in LocalPaths order. An
// ssh-key-pair is split after the private key's -----END armor line.
func Decode(kind Kind, payload string) ([][]byte, error) {
	payload = string(Canonicalize([]byte(payload)))
	switch kind {
	case KindFile, KindKeyValueFile:
		return [][]byte{[]byte(payload)}, nil
	case KindSSHKeyPair:
		idx := strings.LastIndex(payload, "\n-----END")
		start := idx + 1
		if idx < 0 {
			if !strings.HasPrefix(payload, "-----END") {
				return nil, fmt.Errorf("payload has no -----END armor line")
			}
			start = 0
		}
		end := strings.IndexByte(payload[start:], '\n')
		if end < 0 {
			return [][]byte{[]byte(payload + "\n"), {}}, nil
		}
		split := start + end + 1
		priv := payload[:split]
		pub := strings.TrimLeft(payload[split:], "\n")
		return [][]byte{[]byte(priv), []byte(pub)}, nil
	}
	return nil, fmt.Errorf("unknown kind %q", kind)
}

// Normalize returns the payload that writing the item's files and reading
// them back would produce. A payload that does not decode comes back
// canonicalized, along with the decode error.
func Normalize(kind Kind, payload string) (string, error) {
	files, err := Decode(kind, payload)
	if err != nil {
		return string(Canonicalize([]byte(payload))), err
	}
	return Encode(kind, files)
}

// ReadLocal reads and encodes the item's files. present is false when none
// of them exist; a partial set fails with ErrIncomplete.
func ReadLocal(kind Kind, path string) (payload string, present bool, err error) {
	paths := LocalPaths(kind, path)
	files := make([][]byte, 0, len(paths))
	var missing []string
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if errors.Is(err, os.ErrNotExist) {
			missing = append(missing, p)
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("read %s: %w", p, err)
		}
		files = append(files, data)
	}
	switch len(missing) {
	case 0:
	case len(paths):
		return "", false, nil
	default:
		return "", false, fmt.Errorf("%w: missing %s", ErrIncomplete, strings.Join(missing, ", "))
	}

	payload, err = Encode(kind, files)
	if err != nil {
		return "", false, fmt.Errorf("encode %s: %w", path, err)
	}
	return payload, true, nil
}

// CheckKeyValue reports lines of a key-value-file that are neither blank,
// comments nor KEY=VALUE assignments.
func CheckKeyValue(payload string) []int {
	var bad []int
	sc := bufio.NewScanner(strings.NewReader(payload))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, _, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(key) == "" || strings.ContainsAny(strings.TrimSpace(key), " \t") {
			bad = append(bad, n)
		}
	}
	return bad
}
