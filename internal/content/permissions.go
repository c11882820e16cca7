package content

import "os"

// DirMode is applied to directories vaultsync creates and to the
// non-home directories that hold pulled secrets.
const DirMode os.FileMode = 0o700

// FileMode returns the mode for the i-th file of kind (LocalPaths order):
// private keys and generic secret files 0600, public keys 0644.
func FileMode(kind Kind, i int) os.FileMode {
	if kind == KindSSHKeyPair && i == 1 {
		return 0o644
	}
	return 0o600
}

// ModeTooOpen reports whether mode grants more than the policy for the
// file allows.
func ModeTooOpen(kind Kind, i int, mode os.FileMode) bool {
	return mode.Perm()&^FileMode(kind, i) != 0
}
