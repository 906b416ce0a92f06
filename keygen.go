package cryptdev

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// KDF selects how a passphrase is stretched into key material
type KDF uint8

const (
	// KDFArgon2id uses Argon2id (recommended)
	KDFArgon2id KDF = iota
	// KDFPBKDF2SHA256 uses PBKDF2 with HMAC-SHA256
	KDFPBKDF2SHA256
	// KDFPBKDF2SHA512 uses PBKDF2 with HMAC-SHA512
	KDFPBKDF2SHA512
)

// String returns the name of the KDF
func (k KDF) String() string {
	switch k {
	case KDFArgon2id:
		return "argon2id"
	case KDFPBKDF2SHA256:
		return "pbkdf2-sha256"
	case KDFPBKDF2SHA512:
		return "pbkdf2-sha512"
	default:
		return "unknown"
	}
}

// ParseKDF maps a KDF name to its KDF
func ParseKDF(name string) (KDF, error) {
	switch name {
	case "argon2id":
		return KDFArgon2id, nil
	case "pbkdf2-sha256":
		return KDFPBKDF2SHA256, nil
	case "pbkdf2-sha512":
		return KDFPBKDF2SHA512, nil
	default:
		return 0, NewConfigError(ErrInvalidArguments, "kdf", name, "unknown key derivation function")
	}
}

// KDFParams tunes passphrase key derivation
type KDFParams struct {
	KDF KDF

	// Argon2id
	Memory      uint32 // KiB
	Iterations  uint32 // Argon2id passes or PBKDF2 rounds
	Parallelism uint8

	// Salt must be at least 8 bytes
	Salt []byte
}

// DefaultKDFParams returns Argon2id parameters with a fresh random salt
func DefaultKDFParams() (KDFParams, error) {
	salt, err := GenerateSalt(32)
	if err != nil {
		return KDFParams{}, err
	}
	return KDFParams{
		KDF:         KDFArgon2id,
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
		Salt:        salt,
	}, nil
}

func (p *KDFParams) withDefaults() {
	if p.Iterations == 0 {
		if p.KDF == KDFArgon2id {
			p.Iterations = 3
		} else {
			p.Iterations = 100000
		}
	}
	if p.Memory == 0 {
		p.Memory = 64 * 1024
	}
	if p.Parallelism == 0 {
		p.Parallelism = 4
	}
}

// DeriveKey stretches passphrase into a key of keyBits bits suitable for alg
func DeriveKey(alg Algorithm, keyBits int, passphrase []byte, params KDFParams) ([]byte, error) {
	if err := ValidateKeyBits(alg, keyBits); err != nil {
		return nil, err
	}
	if len(passphrase) == 0 {
		return nil, NewConfigError(ErrInvalidArguments, "passphrase", nil, "passphrase cannot be empty")
	}
	if len(params.Salt) < 8 {
		return nil, NewConfigError(ErrInvalidArguments, "salt", len(params.Salt), "salt must be at least 8 bytes")
	}
	params.withDefaults()

	size := keyBits / 8
	switch params.KDF {
	case KDFArgon2id:
		return argon2.IDKey(passphrase, params.Salt, params.Iterations, params.Memory, params.Parallelism, uint32(size)), nil
	case KDFPBKDF2SHA256, KDFPBKDF2SHA512:
		var h func() hash.Hash = sha256.New
		if params.KDF == KDFPBKDF2SHA512 {
			h = sha512.New
		}
		return pbkdf2.Key(passphrase, params.Salt, int(params.Iterations), size, h), nil
	default:
		return nil, NewConfigError(ErrInvalidArguments, "kdf", params.KDF, "unknown key derivation function")
	}
}

// GenerateKey returns a random key of keyBits bits suitable for alg
func GenerateKey(alg Algorithm, keyBits int) ([]byte, error) {
	if err := ValidateKeyBits(alg, keyBits); err != nil {
		return nil, err
	}
	key := make([]byte, keyBits/8)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// GenerateSalt returns n random bytes
func GenerateSalt(n int) ([]byte, error) {
	if n <= 0 {
		return nil, NewConfigError(ErrInvalidArguments, "salt", n, "salt size must be positive")
	}
	salt := make([]byte, n)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// FormatParams builds a parameter string accepted by ParseParams
func FormatParams(cipherSpec string, key []byte, ivOffset uint64, device string, blockOffset uint64) string {
	return fmt.Sprintf("%s %s %d %s %d", cipherSpec, hex.EncodeToString(key), ivOffset, device, blockOffset)
}
