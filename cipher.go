package cryptdev

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"fmt"
	"math/bits"

	"github.com/dgryski/go-camellia"
	"golang.org/x/crypto/blowfish"
	"golang.org/x/crypto/cast5"
)

// sectorCipher encrypts or decrypts a buffer in place in CBC mode
type sectorCipher interface {
	// Crypt transforms buf in place using the first BlockSize bytes of iv
	Crypt(dir Direction, buf, iv []byte) error

	// BlockSize returns the cipher block length
	BlockSize() int
}

// cbcCipher runs a block cipher in CBC mode
type cbcCipher struct {
	block cipher.Block
}

// Crypt transforms buf in place
func (c *cbcCipher) Crypt(dir Direction, buf, iv []byte) error {
	bs := c.block.BlockSize()
	if len(buf)%bs != 0 {
		return fmt.Errorf("buffer of %d bytes is not a multiple of the %d-byte block", len(buf), bs)
	}
	if len(iv) < bs {
		return fmt.Errorf("iv must be at least %d bytes, got %d", bs, len(iv))
	}

	if dir == Encrypt {
		cipher.NewCBCEncrypter(c.block, iv[:bs]).CryptBlocks(buf, buf)
	} else {
		cipher.NewCBCDecrypter(c.block, iv[:bs]).CryptBlocks(buf, buf)
	}
	return nil
}

// BlockSize returns the cipher block length
func (c *cbcCipher) BlockSize() int {
	return c.block.BlockSize()
}

// nullCipher leaves data untouched, IV included
type nullCipher struct{}

func (nullCipher) Crypt(dir Direction, buf, iv []byte) error { return nil }
func (nullCipher) BlockSize() int                            { return AlgorithmNull.BlockSize() }

// newSectorCipher creates a CBC cipher for the algorithm and key
func newSectorCipher(alg Algorithm, key []byte) (sectorCipher, error) {
	var (
		block cipher.Block
		err   error
	)

	switch alg {
	case AlgorithmAES:
		block, err = aes.NewCipher(key)
	case AlgorithmBlowfish:
		block, err = blowfish.NewCipher(key)
	case AlgorithmTripleDES:
		var k []byte
		if k, err = expandTripleDESKey(key); err == nil {
			block, err = des.NewTripleDESCipher(k)
			wipeBytes(k)
		}
	case AlgorithmCamellia:
		block, err = camellia.New(key)
	case AlgorithmCAST5:
		block, err = cast5.NewCipher(key)
	case AlgorithmNull:
		return nullCipher{}, nil
	case AlgorithmSkipjack:
		return nil, fmt.Errorf("no software implementation of %s", alg)
	default:
		return nil, fmt.Errorf("unknown algorithm %d", alg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s cipher: %w", alg, err)
	}

	return &cbcCipher{block: block}, nil
}

// expandTripleDESKey spreads a 168-bit key over three 64-bit DES keys,
// seven key bits per byte with odd parity in the low bit. 24-byte keys are
// returned as a copy.
func expandTripleDESKey(key []byte) ([]byte, error) {
	switch len(key) {
	case 24:
		return append([]byte(nil), key...), nil
	case 21:
	default:
		return nil, fmt.Errorf("3des requires a 21 or 24 byte key, got %d bytes", len(key))
	}

	out := make([]byte, 24)
	for k := 0; k < 3; k++ {
		var v uint64
		for _, b := range key[k*7 : k*7+7] {
			v = v<<8 | uint64(b)
		}
		for i := 0; i < 8; i++ {
			b := byte(v>>(49-7*uint(i))) << 1
			if bits.OnesCount8(b)%2 == 0 {
				b |= 1
			}
			out[k*8+i] = b
		}
	}
	return out, nil
}
