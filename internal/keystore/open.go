package keystore

import "fmt"

// Backend names accepted by Open.
const (
	BackendAuto     = "auto"
	BackendKeychain = "keychain"
	BackendKeyring  = "keyring"
	BackendMemory   = "memory"
)

// Open returns the keystore for backend. "auto" (or empty) picks the
// platform keychain where there is one and a keyring backend elsewhere.
func Open(backend string, opts KeyringOptions) (Keystore, error) {
	switch backend {
	case "", BackendAuto:
		if ks := platformKeystore(); ks != nil {
			return ks, nil
		}
		return NewKeyringKeystore(opts), nil
	case BackendKeychain:
		ks := platformKeystore()
		if ks == nil {
			return nil, fmt.Errorf("backend %q is only available on macOS", backend)
		}
		return ks, nil
	case BackendKeyring:
		return NewKeyringKeystore(opts), nil
	case BackendMemory:
		return NewMemoryKeystore(), nil
	default:
		return nil, fmt.Errorf("unknown keystore backend %q", backend)
	}
}
