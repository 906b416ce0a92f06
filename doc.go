// Package cryptdev provides a transparent encryption layer for block
// devices: every 512-byte sector written through a target is encrypted in
// CBC mode before it reaches the underlying device, and decrypted after it
// is read back.
//
// # Overview
//
// A target is created from a five token parameter string in the format used
// by cryptsetup and dm-crypt tables:
//
//	<alg>-cbc-<ivmode>[:<ivopt>] <hex-key> <iv-offset> <device-path> <block-offset>
//
// Each sector is encrypted independently, so any sector can be read or
// rewritten without touching its neighbours. The IV of a sector is derived
// from its absolute sector number on the underlying device plus iv-offset.
//
// # Supported Ciphers
//
//   - aes: 128, 192 or 256 bit keys
//   - blowfish: 128 to 448 bit keys in 8 bit steps
//   - 3des: 168 bit keys
//   - camellia: 128, 192 or 256 bit keys
//   - cast5: 128 bit keys
//   - null: no encryption, for testing
//
// skipjack (80 bit keys) is recognized but has no software implementation;
// it needs a Provider that supports it.
//
// # IV Modes
//
//   - plain: the little-endian sector number
//   - essiv:<digest>: the sector number encrypted under digest(key). The
//     digest size must equal the key size. Accepted digests are md5, sha1,
//     sha256, sha384, sha512 and rmd160.
//
// # Basic Usage
//
//	target, err := cryptdev.New(base, &cryptdev.Config{
//	    Name:   "data",
//	    Params: "aes-cbc-essiv:sha256 " + hexKey + " 0 /volume.img 0",
//	})
//	if err != nil {
//	    return err
//	}
//	defer target.Destroy()
//
//	// Synchronous helpers
//	_, err = target.WriteAt(buf, 0)
//
//	// Asynchronous requests
//	target.Strategy(&cryptdev.Request{
//	    Cmd:    cryptdev.CmdRead,
//	    Offset: 4096,
//	    Data:   make([]byte, 8*cryptdev.SectorSize),
//	    Done:   func(req *cryptdev.Request) { ... },
//	})
//
// # Cipher Providers
//
// Cipher work runs on a Provider. When Config.Provider is nil the target
// starts its own SoftProvider, a pool of worker goroutines. A provider may
// complete a job with ErrBusy; such jobs are resubmitted and do not count
// as completions.
//
// # Security Considerations
//
// Protected Against:
//   - Disclosure of data at rest on the underlying device
//
// Not Protected Against:
//   - Tampering: CBC provides no authentication
//   - Watermarking attacks against the plain IV mode
//   - Memory dumps while the target is configured
//
// Key material is overwritten with 0xFF and then zero on every release path.
package cryptdev
