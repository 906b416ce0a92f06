package cryptdev

import (
	"fmt"
)

// Input validation helpers

// ValidateKeyBits checks a key bit length against the algorithm's allowed set
func ValidateKeyBits(alg Algorithm, bits int) error {
	if !alg.ValidKeyBits(bits) {
		return &ConfigError{
			Kind:    ErrUnsupportedKeyLength,
			Field:   "key",
			Value:   bits,
			Message: fmt.Sprintf("%d-bit key not supported by %s", bits, alg),
		}
	}
	return nil
}

// ValidateRequest checks the admission rules for a block request
func ValidateRequest(req *Request) error {
	if req == nil {
		return ErrInvalidRequest
	}
	if req.Offset < 0 {
		return fmt.Errorf("%w: negative offset %d", ErrInvalidRequest, req.Offset)
	}
	if req.Cmd != CmdRead && req.Cmd != CmdWrite {
		return nil
	}
	if len(req.Data) == 0 || len(req.Data)%SectorSize != 0 {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidRequest, len(req.Data))
	}
	if req.Offset%SectorSize != 0 {
		return fmt.Errorf("%w: offset %d is not sector aligned", ErrInvalidRequest, req.Offset)
	}
	return nil
}

// ValidateSessionKey checks key material handed to a cipher provider
func ValidateSessionKey(alg Algorithm, key []byte) error {
	if key == nil {
		return fmt.Errorf("%w: key cannot be nil", ErrSessionCreationFailed)
	}
	if len(key) > MaxKeySize {
		return fmt.Errorf("%w: key of %d bytes exceeds %d", ErrSessionCreationFailed, len(key), MaxKeySize)
	}
	if alg != AlgorithmTripleDES && !alg.ValidKeyBits(len(key)*8) {
		return fmt.Errorf("%w: %d-byte key not valid for %s", ErrSessionCreationFailed, len(key), alg)
	}
	return nil
}
