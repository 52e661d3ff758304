//go:build darwin

package keystore

func platformKeystore() Keystore {
	return NewKeychainKeystore()
}
