package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/zalando/go-keyring"

	"github.com/systmms/vaultsync/internal/localfs"
)

var (
	// ErrNotCached is returned by Store.Load when no token is stored.
	ErrNotCached = errors.New("no cached session")
	// ErrCorrupt is returned by Store.Load when the stored token is unusable.
	ErrCorrupt = errors.New("cached session is corrupt")
)

const maxTokenLen = 8192

// Store persists one opaque session token per backend.
type Store interface {
	Load(backendName string) (string, error)
	Save(backendName, token string) error
	Delete(backendName string) error
}

// checkToken rejects values no backend would issue: empty, oversized, or
// containing whitespace or control characters.
func checkToken(tok string) error {
	if tok == "" || len(tok) > maxTokenLen {
		return ErrCorrupt
	}
	for _, r := range tok {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == unicode.ReplacementChar {
			return ErrCorrupt
		}
	}
	return nil
}

// DefaultStateDir returns $XDG_STATE_HOME/vaultsync or ~/.local/state/vaultsync.
func DefaultStateDir() (string, error) {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "vaultsync"), nil
	}
	return localfs.ExpandHome("~/.local/state/vaultsync")
}

// FileStore keeps tokens in session-<backend> files under a private
// directory. Directory mode is 0700 and file mode 0600.
type FileStore struct {
	Dir string
}

// NewFileStore returns a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

// Path returns the cache file for backendName.
func (s *FileStore) Path(backendName string) string {
	safe := strings.NewReplacer("/", "_", string(filepath.Separator), "_").Replace(backendName)
	return filepath.Join(s.Dir, "session-"+safe)
}

func (s *FileStore) Load(backendName string) (string, error) {
	data, ok, err := localfs.ReadFileIfExists(s.Path(backendName))
	if err != nil {
		return "", fmt.Errorf("read session cache: %w", err)
	}
	if !ok {
		return "", ErrNotCached
	}
	tok := strings.TrimRight(string(data), "\n")
	if err := checkToken(tok); err != nil {
		return "", err
	}
	return tok, nil
}

// Save writes the token atomically: temp file, chmod 0600, rename.
func (s *FileStore) Save(backendName, token string) error {
	if err := checkToken(token); err != nil {
		return fmt.Errorf("refusing to cache session: %w", err)
	}
	if err := localfs.EnsureDir(s.Dir, 0o700); err != nil {
		return err
	}
	return localfs.WriteFileAtomic(s.Path(backendName), []byte(token+"\n"), 0o600, 0o700)
}

func (s *FileStore) Delete(backendName string) error {
	err := os.Remove(s.Path(backendName))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session cache: %w", err)
	}
	return nil
}

// KeyringService is the service name tokens are stored under in the OS
// keyring.
const KeyringService = "vaultsync"

// KeyringStore keeps tokens in the OS keyring (Secret Service, macOS
// Keychain, Windows Credential Manager) with the backend name as the user.
type KeyringStore struct {
	Service string
}

// NewKeyringStore returns a KeyringStore using KeyringService.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{Service: KeyringService}
}

func (s *KeyringStore) Load(backendName string) (string, error) {
	tok, err := keyring.Get(s.Service, backendName)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotCached
	}
	if err != nil {
		return "", fmt.Errorf("read keyring: %w", err)
	}
	if err := checkToken(tok); err != nil {
		return "", err
	}
	return tok, nil
}

func (s *KeyringStore) Save(backendName, token string) error {
	if err := checkToken(token); err != nil {
		return fmt.Errorf("refusing to cache session: %w", err)
	}
	if err := keyring.Set(s.Service, backendName, token); err != nil {
		return fmt.Errorf("write keyring: %w", err)
	}
	return nil
}

func (s *KeyringStore) Delete(backendName string) error {
	err := keyring.Delete(s.Service, backendName)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("remove keyring entry: %w", err)
	}
	return nil
}

// NewStore returns the store named by the session_store setting: "file"
// (default) or "keyring".
func NewStore(kind, stateDir string) (Store, error) {
	switch kind {
	case "", "file":
		if stateDir == "" {
			dir, err := DefaultStateDir()
			if err != nil {
				return nil, err
			}
			stateDir = dir
		}
		return NewFileStore(stateDir), nil
	case "keyring":
		return NewKeyringStore(), nil
	}
	return nil, fmt.Errorf("unknown session store %q (want file or keyring)", kind)
}
