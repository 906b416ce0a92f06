package cryptdev

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// paramTokens is the exact number of tokens in a table parameter string
const paramTokens = 5

// Params is a decoded table parameter string:
//
//	<alg>-cbc-<ivmode>[:<ivopt>] <hex-key> <iv-offset> <device-path> <block-offset>
//
// For example, as passed by cryptsetup:
//
//	aes-cbc-essiv:sha256 7997f8af... 0 /dev/ad0s0a 8
type Params struct {
	Algorithm   Algorithm
	Mode        string
	IVMode      string
	IVOpt       string
	Key         []byte // Decoded key, owned by the caller of ParseParams
	KeyBits     int
	IVOffset    uint64
	Device      string
	BlockOffset uint64
}

// ParseParams decodes a parameter string, checking in order the token
// count, chaining mode, algorithm, key length and key encoding. The device
// and IV mode are resolved later by New.
func ParseParams(s string) (*Params, error) {
	tokens := strings.Fields(s)
	if len(tokens) != paramTokens {
		return nil, NewConfigError(ErrInvalidArguments, "params", len(tokens),
			fmt.Sprintf("need exactly %d arguments, got %d", paramTokens, len(tokens)))
	}

	// alg-mode-ivspec; the ivspec keeps any further dashes
	parts := strings.SplitN(tokens[0], "-", 3)
	if len(parts) < 2 {
		return nil, NewConfigError(ErrInvalidArguments, "cipher", tokens[0], "expected <alg>-<mode>-<ivmode>")
	}
	p := &Params{Mode: parts[1]}
	if len(parts) == 3 {
		p.IVMode, p.IVOpt, _ = strings.Cut(parts[2], ":")
	}

	if p.Mode != ChainingModeCBC {
		return nil, NewConfigError(ErrUnsupportedChainingMode, "mode", p.Mode,
			fmt.Sprintf("only %q chaining mode is supported", ChainingModeCBC))
	}

	alg, err := ParseAlgorithm(parts[0])
	if err != nil {
		return nil, NewConfigError(ErrUnsupportedAlgorithm, "algorithm", parts[0], "unknown algorithm")
	}
	p.Algorithm = alg

	// bits / 8 = bytes, 1 byte = 2 hex chars
	p.KeyBits = len(tokens[1]) * 4
	if err := ValidateKeyBits(alg, p.KeyBits); err != nil {
		return nil, err
	}

	key, err := DecodeHexKey(tokens[1])
	if err != nil {
		return nil, err
	}
	p.Key = key

	if p.IVOffset, err = parseOffset("iv_offset", tokens[2]); err != nil {
		wipeBytes(p.Key)
		return nil, err
	}
	p.Device = tokens[3]
	if p.BlockOffset, err = parseOffset("block_offset", tokens[4]); err != nil {
		wipeBytes(p.Key)
		return nil, err
	}

	return p, nil
}

// DecodeHexKey decodes an even-length ASCII hex key byte for byte
func DecodeHexKey(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, NewConfigError(ErrInvalidArguments, "key", len(s), "hex key must have an even number of characters")
	}
	if len(s)/2 > MaxKeySize {
		return nil, NewConfigError(ErrUnsupportedKeyLength, "key", len(s)*4,
			fmt.Sprintf("key longer than %d bytes", MaxKeySize))
	}
	key := make([]byte, len(s)/2)
	if _, err := hex.Decode(key, []byte(s)); err != nil {
		wipeBytes(key)
		return nil, &ConfigError{
			Kind:    ErrInvalidArguments,
			Field:   "key",
			Message: "invalid hex key format",
		}
	}
	return key, nil
}

// parseOffset accepts decimal, 0x-prefixed hex and 0-prefixed octal
func parseOffset(field, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, NewConfigError(ErrInvalidArguments, field, s, "expected an unsigned 64-bit integer")
	}
	return v, nil
}

// cipherSpec renders the first token, for logs
func (p *Params) cipherSpec() string {
	spec := p.Algorithm.String() + "-" + p.Mode + "-" + p.IVMode
	if p.IVOpt != "" {
		spec += ":" + p.IVOpt
	}
	return spec
}
