package cryptdev

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"math/bits"
	"testing"
)

func TestSectorCipherRoundTrip(t *testing.T) {
	tests := []struct {
		alg     Algorithm
		keySize int
	}{
		{AlgorithmAES, 16},
		{AlgorithmAES, 24},
		{AlgorithmAES, 32},
		{AlgorithmBlowfish, 16},
		{AlgorithmBlowfish, 56},
		{AlgorithmTripleDES, 21},
		{AlgorithmTripleDES, 24},
		{AlgorithmCamellia, 16},
		{AlgorithmCamellia, 32},
		{AlgorithmCAST5, 16},
	}

	for _, tt := range tests {
		t.Run(tt.alg.String(), func(t *testing.T) {
			sc, err := newSectorCipher(tt.alg, patternData(tt.keySize, 0x5c))
			if err != nil {
				t.Fatalf("newSectorCipher() error = %v", err)
			}
			if sc.BlockSize() != tt.alg.BlockSize() {
				t.Errorf("BlockSize() = %d, want %d", sc.BlockSize(), tt.alg.BlockSize())
			}

			plaintext := patternData(SectorSize, 0x33)
			buf := bytes.Clone(plaintext)
			iv := patternData(IVSize, 0x01)

			if err := sc.Crypt(Encrypt, buf, iv); err != nil {
				t.Fatalf("Encrypt error = %v", err)
			}
			if bytes.Equal(buf, plaintext) {
				t.Fatal("ciphertext equals plaintext")
			}
			if err := sc.Crypt(Decrypt, buf, iv); err != nil {
				t.Fatalf("Decrypt error = %v", err)
			}
			if !bytes.Equal(buf, plaintext) {
				t.Error("round trip mismatch")
			}
		})
	}
}

func TestSectorCipherMatchesCBC(t *testing.T) {
	key := mustHex(t, testKey128)
	iv := patternData(IVSize, 0x7e)
	plaintext := patternData(SectorSize, 0x42)

	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	want := make([]byte, SectorSize)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(want, plaintext)

	sc, err := newSectorCipher(AlgorithmAES, key)
	if err != nil {
		t.Fatalf("newSectorCipher() error = %v", err)
	}
	got := bytes.Clone(plaintext)
	if err := sc.Crypt(Encrypt, got, iv); err != nil {
		t.Fatalf("Crypt() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("ciphertext differs from crypto/cipher CBC")
	}
}

func TestSectorCipherUsesIVPrefix(t *testing.T) {
	// 8-byte block ciphers only see the first 8 IV bytes
	sc, err := newSectorCipher(AlgorithmBlowfish, patternData(16, 0))
	if err != nil {
		t.Fatal(err)
	}

	iv1 := patternData(IVSize, 0)
	iv2 := bytes.Clone(iv1)
	iv2[12] ^= 0xff

	a := patternData(SectorSize, 1)
	b := bytes.Clone(a)
	sc.Crypt(Encrypt, a, iv1)
	sc.Crypt(Encrypt, b, iv2)
	if !bytes.Equal(a, b) {
		t.Error("IV bytes past the block size changed the ciphertext")
	}
}

func TestSectorCipherRejectsPartialBlocks(t *testing.T) {
	sc, err := newSectorCipher(AlgorithmAES, patternData(16, 0))
	if err != nil {
		t.Fatal(err)
	}
	if err := sc.Crypt(Encrypt, make([]byte, 20), make([]byte, IVSize)); err == nil {
		t.Error("expected error for a partial block")
	}
	if err := sc.Crypt(Encrypt, make([]byte, 32), make([]byte, 8)); err == nil {
		t.Error("expected error for a short iv")
	}
}

func TestNullCipher(t *testing.T) {
	sc, err := newSectorCipher(AlgorithmNull, patternData(16, 0))
	if err != nil {
		t.Fatal(err)
	}
	data := patternData(SectorSize, 9)
	buf := bytes.Clone(data)
	if err := sc.Crypt(Encrypt, buf, make([]byte, IVSize)); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, data) {
		t.Error("null cipher modified data")
	}
}

func TestSkipjackUnavailable(t *testing.T) {
	if _, err := newSectorCipher(AlgorithmSkipjack, make([]byte, 10)); err == nil {
		t.Fatal("expected skipjack to have no software implementation")
	}

	tbl := newSessionTable()
	_, err := tbl.open(AlgorithmSkipjack, make([]byte, 10))
	if !errors.Is(err, ErrSessionCreationFailed) {
		t.Errorf("open() error = %v, want session creation failure", err)
	}
}

func TestExpandTripleDESKey(t *testing.T) {
	key := patternData(21, 0xa5)
	out, err := expandTripleDESKey(key)
	if err != nil {
		t.Fatalf("expandTripleDESKey() error = %v", err)
	}
	if len(out) != 24 {
		t.Fatalf("expanded key is %d bytes, want 24", len(out))
	}
	for i, b := range out {
		if bits.OnesCount8(b)%2 != 1 {
			t.Errorf("byte %d = %#x does not have odd parity", i, b)
		}
	}

	// The 7 key bits of each output byte concatenate back to the input
	var got []byte
	for k := 0; k < 3; k++ {
		var v uint64
		for _, b := range out[k*8 : k*8+8] {
			v = v<<7 | uint64(b>>1)
		}
		for i := 6; i >= 0; i-- {
			got = append(got, byte(v>>(8*uint(i))))
		}
	}
	if !bytes.Equal(got, key) {
		t.Errorf("key bits = %x, want %x", got, key)
	}

	if _, err := expandTripleDESKey(make([]byte, 16)); err == nil {
		t.Error("expected error for a 16 byte key")
	}
}
