package cryptdev

import (
	"fmt"
	"sync"
	"time"

	"github.com/absfs/absfs"
	"github.com/sirupsen/logrus"
)

// Request is a block I/O request against a target. Data is the active
// buffer: during an encrypted write it temporarily points at the ciphertext
// staging buffer and is restored before Done runs.
type Request struct {
	Cmd    Cmd
	Offset int64  // Byte offset on the mapped device, sector aligned
	Data   []byte // A non-zero multiple of SectorSize for reads and writes
	Err    error
	Done   func(*Request)

	start time.Time
}

// Target is a configured crypt layer over one underlying device. Its key
// material is read-only after New until Destroy scrubs it.
type Target struct {
	name        string
	status      secret // Raw parameter string, kept for Status
	alg         Algorithm
	keyBits     int
	key         secret
	ivMode      string
	ivOpt       string
	ivOffset    uint64
	blockOffset uint64
	fullWidthIV bool

	device      Device
	provider    Provider
	ownProvider *SoftProvider
	session     SessionID
	hasSession  bool
	ivgen       IVGenerator

	logger  *logrus.Entry
	metrics *targetMetrics

	lifecycle sync.RWMutex // Orders request admission against Destroy
	destroyed bool
	inflight  sync.WaitGroup
}

// TargetInfo describes a target without its key material
type TargetInfo struct {
	Name        string
	Algorithm   Algorithm
	KeyBits     int
	IVMode      string
	IVOpt       string
	IVOffset    uint64
	BlockOffset uint64
	Device      DeviceID
}

// New creates a target whose device path is resolved on base
func New(base absfs.FileSystem, config *Config) (*Target, error) {
	if base == nil {
		return nil, fmt.Errorf("base filesystem cannot be nil")
	}
	return NewWithDevices(NewFileDevices(base), config)
}

// NewWithDevices creates a target from config.Params, resolving the device
// through devices. On failure everything built so far is released and the
// key and parameter copies are scrubbed.
func NewWithDevices(devices DeviceOpener, config *Config) (*Target, error) {
	if devices == nil {
		return nil, fmt.Errorf("device opener cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = log
	}
	logger = logger.WithField("target", config.Name)

	t := &Target{
		name:        config.Name,
		status:      copySecret([]byte(config.Params)),
		fullWidthIV: config.FullWidthIV,
		logger:      logger,
	}

	ok := false
	defer func() {
		if !ok {
			t.release()
		}
	}()

	p, err := ParseParams(config.Params)
	if err != nil {
		logger.WithError(err).Warn("Invalid crypt target parameters")
		return nil, err
	}
	t.key = secret(p.Key)
	t.alg = p.Algorithm
	t.keyBits = p.KeyBits
	t.ivMode = p.IVMode
	t.ivOpt = p.IVOpt
	t.ivOffset = p.IVOffset
	t.blockOffset = p.BlockOffset

	if t.device, err = devices.OpenDevice(p.Device); err != nil {
		logger.WithError(err).WithField("device", p.Device).Warn("Failed to open underlying device")
		return nil, err
	}

	t.provider = config.Provider
	if t.provider == nil {
		pc := DefaultProviderConfig()
		pc.Logger = logger.WithField("provider", "soft")
		if t.ownProvider, err = NewSoftProvider(pc); err != nil {
			return nil, wrapConfigError(ErrSessionCreationFailed, "provider", err)
		}
		t.provider = t.ownProvider
	}

	t.ivgen, err = newIVGenerator(p.IVMode, p.IVOpt, ivEnv{
		alg:            t.alg,
		key:            t.key,
		ivOffset:       t.ivOffset,
		provider:       t.provider,
		scratchRecords: config.scratchRecords(),
		logger:         logger,
		onBusy:         t.noteBusy,
	})
	if err != nil {
		logger.WithError(err).WithField("ivmode", p.IVMode).Warn("Failed to set up iv generator")
		return nil, err
	}

	if t.session, err = t.provider.NewSession(t.alg, t.key); err != nil {
		logger.WithError(err).Error("Failed to create cipher session")
		return nil, wrapConfigError(ErrSessionCreationFailed, "key", err)
	}
	t.hasSession = true

	if t.metrics, err = newTargetMetrics(t.name, config.Registerer); err != nil {
		return nil, wrapConfigError(ErrInvalidArguments, "name", err)
	}

	logger.WithFields(logrus.Fields{
		"device":       p.Device,
		"cipher":       p.cipherSpec(),
		"key_bits":     t.keyBits,
		"iv_offset":    t.ivOffset,
		"block_offset": t.blockOffset,
	}).Info("Crypt target created")

	ok = true
	return t, nil
}

// release tears down whatever New managed to build
func (t *Target) release() {
	if t.device != nil {
		if err := t.device.Close(); err != nil {
			t.logger.WithError(err).Warn("Failed to close underlying device")
		}
	}
	t.status.Wipe()

	if t.hasSession {
		if err := t.provider.FreeSession(t.session); err != nil {
			t.logger.WithError(err).Warn("Failed to free cipher session")
		}
		t.hasSession = false
	}
	if t.ivgen != nil {
		// Close logs its own failures
		_ = t.ivgen.Close()
	}
	if t.ownProvider != nil {
		_ = t.ownProvider.Close()
	}
	if t.metrics != nil {
		t.metrics.unregister()
	}
	t.key.Wipe()
}

// Destroy waits for in-flight requests, then releases the device, sessions
// and IV generator and scrubs all key material. Later calls do nothing.
// It must not be called from a request's Done callback.
func (t *Target) Destroy() {
	t.lifecycle.Lock()
	if t.destroyed {
		t.lifecycle.Unlock()
		return
	}
	t.destroyed = true
	t.lifecycle.Unlock()

	t.inflight.Wait()
	t.release()
	t.logger.Info("Crypt target destroyed")
}

// Close destroys the target
func (t *Target) Close() error {
	t.Destroy()
	return nil
}

// Status returns the parameter string the target was created with. It is
// empty once the target is destroyed.
func (t *Target) Status() string {
	t.lifecycle.RLock()
	defer t.lifecycle.RUnlock()
	if t.destroyed {
		return ""
	}
	return string(t.status)
}

// Deps returns the underlying devices of the target
func (t *Target) Deps() []DeviceID {
	t.lifecycle.RLock()
	defer t.lifecycle.RUnlock()
	if t.destroyed {
		return nil
	}
	return []DeviceID{t.device.ID()}
}

// Info describes the target's configuration without key material
func (t *Target) Info() TargetInfo {
	return TargetInfo{
		Name:        t.name,
		Algorithm:   t.alg,
		KeyBits:     t.keyBits,
		IVMode:      t.ivMode,
		IVOpt:       t.ivOpt,
		IVOffset:    t.ivOffset,
		BlockOffset: t.blockOffset,
		Device:      t.device.ID(),
	}
}

// Size returns the usable size in bytes: the device size minus the block offset
func (t *Target) Size() (int64, error) {
	n, err := t.device.Size()
	if err != nil {
		return 0, NewIOError("stat", t.device.ID().Path, -1, err)
	}
	n -= int64(t.blockOffset) * SectorSize
	if n < 0 {
		return 0, nil
	}
	return n - n%SectorSize, nil
}

// ReadAt reads and decrypts len(p) bytes at off, waiting for completion
func (t *Target) ReadAt(p []byte, off int64) (int, error) {
	if err := t.do(CmdRead, p, off); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteAt encrypts and writes p at off, waiting for completion
func (t *Target) WriteAt(p []byte, off int64) (int, error) {
	if err := t.do(CmdWrite, p, off); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush flushes the underlying device
func (t *Target) Flush() error {
	return t.do(CmdFlush, nil, 0)
}

func (t *Target) do(cmd Cmd, p []byte, off int64) error {
	done := make(chan struct{})
	req := &Request{
		Cmd:    cmd,
		Offset: off,
		Data:   p,
		Done:   func(*Request) { close(done) },
	}
	t.Strategy(req)
	<-done
	return req.Err
}

// enter admits a request unless the target is destroyed
func (t *Target) enter() bool {
	t.lifecycle.RLock()
	defer t.lifecycle.RUnlock()
	if t.destroyed {
		return false
	}
	t.inflight.Add(1)
	return true
}

func (t *Target) noteBusy() {
	t.logger.Debug("Cipher provider busy, resubmitting job")
	if t.metrics != nil {
		t.metrics.busy.Inc()
	}
}
