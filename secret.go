package cryptdev

// secret is owned key material. The owner wipes it on every release path.
type secret []byte

func newSecret(n int) secret {
	return make(secret, n)
}

// copySecret returns an owned copy of b
func copySecret(b []byte) secret {
	s := newSecret(len(b))
	copy(s, b)
	return s
}

// Wipe overwrites the bytes with 0xFF and then zero
func (s secret) Wipe() {
	wipeBytes(s)
}

func wipeBytes(b []byte) {
	for i := range b {
		b[i] = 0xFF
	}
	clear(b)
}
