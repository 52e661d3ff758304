// Package secmem keeps decrypted secret values out of swap and clears them
// once they have been written out.
package secmem

// Wipe zeroes b in place.
func Wipe(b []byte) {
	clear(b)
}

// Lock pins b in RAM where the platform allows it. The returned function
// wipes b and unpins it; it is always non-nil and safe to call more than
// once. Failing to pin is not an error: the value is still wiped.
func Lock(b []byte) (release func()) {
	unlock := lock(b)
	done := false
	return func() {
		if done {
			return
		}
		done = true
		Wipe(b)
		unlock()
	}
}
