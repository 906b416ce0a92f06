package cryptdev

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ripemd160"
)

// IVGenerator derives the IV of a sector. Every variant uses the same
// asynchronous contract: Generate fills iv and then calls done exactly once,
// possibly on another goroutine.
type IVGenerator interface {
	// Name returns the IV mode name as written in the parameter string
	Name() string

	// Generate fills the IVSize-byte iv for the sector and calls done
	Generate(iv []byte, sector int64, done func(error))

	// Close releases the generator's sessions and scrubs its keys
	Close() error
}

// ivEnv carries what an IV generator constructor may use
type ivEnv struct {
	alg            Algorithm
	key            []byte
	ivOffset       uint64
	provider       Provider
	scratchRecords int
	logger         *logrus.Entry
	onBusy         func()
}

// newIVGenerator selects a generator variant by mode name and runs its
// constructor
func newIVGenerator(mode, opt string, env ivEnv) (IVGenerator, error) {
	switch mode {
	case "plain":
		return &plainIVGenerator{ivOffset: env.ivOffset}, nil
	case "essiv":
		return newESSIVGenerator(opt, env)
	default:
		return nil, NewConfigError(ErrUnsupportedIVMode, "ivmode", mode, "unknown iv mode")
	}
}

// putSectorIV zero-fills iv and stores sector+offset little-endian in its
// first 8 bytes
func putSectorIV(iv []byte, sector int64, ivOffset uint64) {
	clear(iv)
	binary.LittleEndian.PutUint64(iv, uint64(sector)+ivOffset)
}

// plainIVGenerator uses the sector number itself as the IV
type plainIVGenerator struct {
	ivOffset uint64
}

func (g *plainIVGenerator) Name() string { return "plain" }

func (g *plainIVGenerator) Generate(iv []byte, sector int64, done func(error)) {
	putSectorIV(iv, sector, g.ivOffset)
	done(nil)
}

func (g *plainIVGenerator) Close() error { return nil }

// essivDigests are the hashes accepted as ESSIV options
var essivDigests = map[string]func() hash.Hash{
	"md5":       md5.New,
	"sha1":      sha1.New,
	"sha256":    sha256.New,
	"sha384":    sha512.New384,
	"sha512":    sha512.New,
	"rmd160":    ripemd160.New,
	"ripemd160": ripemd160.New,
}

// essivGenerator encrypts the sector number under a key derived by hashing
// the master key (encrypted salt-sector IV)
type essivGenerator struct {
	digest   string
	ivOffset uint64
	keyhash  secret
	session  SessionID
	provider Provider
	pool     *ScratchPool[*essivRecord]
	logger   *logrus.Entry
	onBusy   func()
}

// essivRecord is the pooled per-IV state: the job encrypting the IV and the
// continuation to run once it completes
type essivRecord struct {
	gen  *essivGenerator
	done func(error)
	job  Job
}

func newESSIVGenerator(opt string, env ivEnv) (IVGenerator, error) {
	if opt == "" {
		return nil, NewConfigError(ErrUnsupportedIVMode, "ivopt", nil, "essiv requires a digest option")
	}
	newHash, ok := essivDigests[opt]
	if !ok {
		return nil, NewConfigError(ErrUnsupportedIVMode, "ivopt", opt, "unknown essiv digest")
	}

	h := newHash()
	if h.Size() != len(env.key) {
		return nil, NewConfigError(ErrUnsupportedIVMode, "ivopt", opt,
			fmt.Sprintf("%s digest is %d bytes but the key is %d bytes", opt, h.Size(), len(env.key)))
	}
	h.Write(env.key)
	keyhash := secret(h.Sum(nil))
	h.Reset()

	sid, err := env.provider.NewSession(env.alg, keyhash)
	if err != nil {
		keyhash.Wipe()
		env.logger.WithError(err).Error("Failed to create essiv cipher session")
		return nil, wrapConfigError(ErrSessionCreationFailed, "ivopt", err)
	}

	g := &essivGenerator{
		digest:   opt,
		ivOffset: env.ivOffset,
		keyhash:  keyhash,
		session:  sid,
		provider: env.provider,
		logger:   env.logger,
		onBusy:   env.onBusy,
	}
	g.pool = NewScratchPool(env.scratchRecords,
		func() *essivRecord {
			rec := &essivRecord{gen: g}
			rec.job.Callback = rec.complete
			return rec
		},
		func(rec *essivRecord) {
			rec.done = nil
			rec.job.Data = nil
			rec.job.Err = nil
		},
	)
	return g, nil
}

func (g *essivGenerator) Name() string { return "essiv" }

// Generate encrypts the zero-padded sector number in place under the
// digest-keyed session
func (g *essivGenerator) Generate(iv []byte, sector int64, done func(error)) {
	rec := g.pool.Get()
	rec.done = done

	putSectorIV(iv, sector, g.ivOffset)
	rec.job.Session = g.session
	rec.job.Direction = Encrypt
	rec.job.Data = iv
	rec.job.IV = [IVSize]byte{}

	dispatchJob(g.provider, &rec.job)
}

// complete finishes an IV job and hands the IV to the continuation
func (rec *essivRecord) complete(job *Job) {
	g := rec.gen
	if errors.Is(job.Err, ErrBusy) {
		job.Err = nil
		if g.onBusy != nil {
			g.onBusy()
		}
		dispatchJob(g.provider, job)
		return
	}

	err, done := job.Err, rec.done
	if err != nil {
		g.logger.WithError(err).Error("essiv iv generation failed")
	}
	g.pool.Put(rec)
	done(err)
}

// Close frees the secondary session and scrubs the derived key
func (g *essivGenerator) Close() error {
	if n := g.pool.InUse(); n > 0 {
		g.logger.WithField("records", n).Warn("Closing essiv generator with iv jobs in flight")
	}
	err := g.provider.FreeSession(g.session)
	if err != nil {
		g.logger.WithError(err).Warn("Failed to free essiv cipher session")
	}
	g.keyhash.Wipe()
	return err
}
