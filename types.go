package cryptdev

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	// SectorSize is the unit of independent encryption (DEV_BSIZE)
	SectorSize = 512

	// IVSize is the width of every IV buffer, the largest supported cipher block
	IVSize = 16

	// MaxKeySize is the largest master key accepted, in bytes
	MaxKeySize = 64

	// ChainingModeCBC is the only chaining mode supported
	ChainingModeCBC = "cbc"

	// DefaultScratchRecords bounds the ESSIV scratch pool when Config leaves it unset
	DefaultScratchRecords = 64
)

// Algorithm identifies a block cipher run in CBC mode
type Algorithm uint8

const (
	// AlgorithmAES is AES with 128, 192 or 256 bit keys
	AlgorithmAES Algorithm = iota + 1
	// AlgorithmBlowfish is Blowfish with 128 to 448 bit keys
	AlgorithmBlowfish
	// AlgorithmTripleDES is 3DES-EDE with a 168 bit key
	AlgorithmTripleDES
	// AlgorithmCamellia is Camellia with 128, 192 or 256 bit keys
	AlgorithmCamellia
	// AlgorithmSkipjack is Skipjack with an 80 bit key
	AlgorithmSkipjack
	// AlgorithmCAST5 is CAST-128 with a 128 bit key
	AlgorithmCAST5
	// AlgorithmNull passes data through unchanged
	AlgorithmNull
)

// String returns the parameter-string name of the algorithm
func (a Algorithm) String() string {
	switch a {
	case AlgorithmAES:
		return "aes"
	case AlgorithmBlowfish:
		return "blowfish"
	case AlgorithmTripleDES:
		return "3des"
	case AlgorithmCamellia:
		return "camellia"
	case AlgorithmSkipjack:
		return "skipjack"
	case AlgorithmCAST5:
		return "cast5"
	case AlgorithmNull:
		return "null"
	default:
		return "unknown"
	}
}

// BlockSize returns the cipher block length in bytes
func (a Algorithm) BlockSize() int {
	switch a {
	case AlgorithmAES, AlgorithmCamellia:
		return 16
	case AlgorithmBlowfish, AlgorithmTripleDES, AlgorithmSkipjack, AlgorithmCAST5:
		return 8
	case AlgorithmNull:
		return 4
	default:
		return 0
	}
}

// ValidKeyBits reports whether a key of the given bit length is accepted
func (a Algorithm) ValidKeyBits(bits int) bool {
	switch a {
	case AlgorithmAES, AlgorithmCamellia:
		return bits == 128 || bits == 192 || bits == 256
	case AlgorithmBlowfish:
		return bits >= 128 && bits <= 448 && bits%8 == 0
	case AlgorithmTripleDES:
		return bits == 168
	case AlgorithmSkipjack:
		return bits == 80
	case AlgorithmCAST5, AlgorithmNull:
		return bits == 128
	default:
		return false
	}
}

// ParseAlgorithm maps a parameter-string algorithm name to its Algorithm
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "aes":
		return AlgorithmAES, nil
	case "blowfish":
		return AlgorithmBlowfish, nil
	case "3des", "des3":
		return AlgorithmTripleDES, nil
	case "camellia":
		return AlgorithmCamellia, nil
	case "skipjack":
		return AlgorithmSkipjack, nil
	case "cast5":
		return AlgorithmCAST5, nil
	case "null":
		return AlgorithmNull, nil
	default:
		return 0, ErrUnsupportedAlgorithm
	}
}

// Direction selects encryption or decryption for a cipher job
type Direction uint8

const (
	// Decrypt turns ciphertext into plaintext
	Decrypt Direction = iota
	// Encrypt turns plaintext into ciphertext
	Encrypt
)

// String returns the string representation of the direction
func (d Direction) String() string {
	if d == Encrypt {
		return "encrypt"
	}
	return "decrypt"
}

// Cmd is the kind of block request
type Cmd uint8

const (
	// CmdRead reads and decrypts sectors
	CmdRead Cmd = iota
	// CmdWrite encrypts and writes sectors
	CmdWrite
	// CmdFlush is passed through to the underlying device
	CmdFlush
)

// String returns the string representation of the command
func (c Cmd) String() string {
	switch c {
	case CmdRead:
		return "read"
	case CmdWrite:
		return "write"
	case CmdFlush:
		return "flush"
	default:
		return "unknown"
	}
}

// Config contains configuration for a crypt target
type Config struct {
	// Name identifies the mapped device in logs and metrics
	Name string

	// Params is the five token table parameter string
	Params string

	// Provider runs cipher jobs. If nil, a SoftProvider with the default
	// configuration is started and owned by the target.
	Provider Provider

	// ScratchRecords bounds concurrent ESSIV IV computations
	ScratchRecords int

	// FullWidthIV stops narrowing the IV sector index to 32 bits. Volumes
	// written with narrowing are unreadable with it disabled past 2^31 sectors.
	FullWidthIV bool

	// Logger receives target events; defaults to the package logger
	Logger *logrus.Entry

	// Registerer receives the target's metrics; nil leaves them unregistered
	Registerer prometheus.Registerer
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if c.Params == "" {
		return NewConfigError(ErrInvalidArguments, "params", nil, "parameter string cannot be empty")
	}
	if c.ScratchRecords < 0 {
		return NewConfigError(ErrInvalidArguments, "scratch_records", c.ScratchRecords, "cannot be negative")
	}
	return nil
}

func (c *Config) scratchRecords() int {
	if c.ScratchRecords == 0 {
		return DefaultScratchRecords
	}
	return c.ScratchRecords
}

// ErrNilConfig is returned when no configuration is supplied
var ErrNilConfig = errors.New("config cannot be nil")
