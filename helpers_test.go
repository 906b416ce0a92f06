package cryptdev

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/absfs/absfs"
	"github.com/absfs/memfs"
	"github.com/sirupsen/logrus"
)

// Test keys, hex encoded
var (
	testKey128 = "000102030405060708090a0b0c0d0e0f"
	testKey256 = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
)

// errorKinds are the kinds every package error must match exactly one of
var errorKinds = []error{
	ErrInvalidArguments,
	ErrUnsupportedAlgorithm,
	ErrUnsupportedKeyLength,
	ErrUnsupportedChainingMode,
	ErrUnsupportedIVMode,
	ErrDeviceNotFound,
	ErrSessionCreationFailed,
	ErrSectorCryptoFailed,
	ErrUnderlyingIOFailed,
	ErrInvalidRequest,
	ErrTargetDestroyed,
}

func matchedKinds(err error) []error {
	var kinds []error
	for _, k := range errorKinds {
		if errors.Is(err, k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// setupTestFS creates an in-memory filesystem holding a zero-filled device
// image of the given number of sectors at path
func setupTestFS(t *testing.T, path string, sectors int) absfs.FileSystem {
	t.Helper()

	base, err := memfs.NewFS()
	if err != nil {
		t.Fatalf("Failed to create base filesystem: %v", err)
	}
	writeDeviceImage(t, base, path, make([]byte, sectors*SectorSize))
	return base
}

func writeDeviceImage(t *testing.T, base absfs.FileSystem, path string, data []byte) {
	t.Helper()

	if i := strings.LastIndex(path, "/"); i > 0 {
		if err := base.MkdirAll(path[:i], 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", path[:i], err)
		}
	}
	f, err := base.Create(path)
	if err != nil {
		t.Fatalf("Failed to create device image: %v", err)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatalf("Failed to write device image: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Failed to close device image: %v", err)
	}
}

func readDeviceImage(t *testing.T, base absfs.FileSystem, path string) []byte {
	t.Helper()

	f, err := base.Open(path)
	if err != nil {
		t.Fatalf("Failed to open device image: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("Failed to read device image: %v", err)
	}
	return data
}

// newTestTarget creates a target over a fresh device image
func newTestTarget(t *testing.T, params string, sectors int, provider Provider) (*Target, absfs.FileSystem) {
	t.Helper()

	base := setupTestFS(t, "/disk.img", sectors)
	target, err := New(base, &Config{
		Name:     t.Name(),
		Params:   params,
		Provider: provider,
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("Failed to create target: %v", err)
	}
	t.Cleanup(target.Destroy)
	return target, base
}

func patternData(n int, seed byte) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i) ^ seed
	}
	return data
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("Bad hex in test: %v", err)
	}
	return b
}

// submit runs a request and waits for its single completion
func submit(t *testing.T, target *Target, req *Request) error {
	t.Helper()

	done := make(chan struct{}, 2)
	req.Done = func(*Request) { done <- struct{}{} }
	target.Strategy(req)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Request did not complete")
	}
	select {
	case <-done:
		t.Fatal("Request completed more than once")
	case <-time.After(20 * time.Millisecond):
	}
	return req.Err
}

// manualProvider queues jobs until the test completes them, in any order
type manualProvider struct {
	sessions *sessionTable

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*Job
	freed   []SessionID
}

func newManualProvider() *manualProvider {
	p := &manualProvider{sessions: newSessionTable()}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *manualProvider) NewSession(alg Algorithm, key []byte) (SessionID, error) {
	return p.sessions.open(alg, key)
}

func (p *manualProvider) Dispatch(job *Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, job)
	p.cond.Broadcast()
	return nil
}

func (p *manualProvider) FreeSession(sid SessionID) error {
	p.mu.Lock()
	p.freed = append(p.freed, sid)
	p.mu.Unlock()
	return p.sessions.close(sid)
}

// take waits for n queued jobs and removes them from the queue
func (p *manualProvider) take(t *testing.T, n int) []*Job {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	go func() {
		time.Sleep(5 * time.Second)
		p.cond.Broadcast()
	}()

	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.pending) < n {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %d jobs, have %d", n, len(p.pending))
		}
		p.cond.Wait()
	}
	jobs := p.pending[:n:n]
	p.pending = p.pending[n:]
	return jobs
}

func (p *manualProvider) queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// finish runs the job for real, or fails it with err
func (p *manualProvider) finish(job *Job, err error) {
	if err != nil {
		job.Err = err
	} else {
		p.sessions.run(job)
	}
	job.Callback(job)
}

// busyProvider reports ErrBusy for the first busy dispatches, then hands
// jobs to a SoftProvider
type busyProvider struct {
	*SoftProvider

	mu       sync.Mutex
	busy     int
	injected int
}

func (p *busyProvider) Dispatch(job *Job) error {
	p.mu.Lock()
	inject := p.busy > 0
	if inject {
		p.busy--
		p.injected++
	}
	p.mu.Unlock()

	if inject {
		go func() {
			job.Err = ErrBusy
			job.Callback(job)
		}()
		return nil
	}
	return p.SoftProvider.Dispatch(job)
}

func (p *busyProvider) injectedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.injected
}

// failingSessionProvider fails the session opens listed in failOn, counted
// from 1
type failingSessionProvider struct {
	*manualProvider
	opens  int
	failOn map[int]bool
}

func (p *failingSessionProvider) NewSession(alg Algorithm, key []byte) (SessionID, error) {
	p.opens++
	if p.failOn[p.opens] {
		return 0, fmt.Errorf("session %d refused", p.opens)
	}
	return p.manualProvider.NewSession(alg, key)
}

// stubDevice is an in-memory Device with injectable failures
type stubDevice struct {
	mu        sync.Mutex
	data      []byte
	readErr   error
	writeErr  error
	flushErr  error
	writes    int
	flushes   int
	closed    bool
	lastWrite []byte
}

func newStubDevice(sectors int) *stubDevice {
	return &stubDevice{data: make([]byte, sectors*SectorSize)}
}

func (d *stubDevice) Strategy(bio *BlockIO) {
	go func() {
		d.mu.Lock()
		switch bio.Cmd {
		case CmdRead:
			if bio.Err = d.readErr; bio.Err == nil {
				copy(bio.Data, d.data[bio.Offset:])
			}
		case CmdWrite:
			d.writes++
			d.lastWrite = bio.Data
			if bio.Err = d.writeErr; bio.Err == nil {
				copy(d.data[bio.Offset:], bio.Data)
			}
		case CmdFlush:
			d.flushes++
			bio.Err = d.flushErr
		}
		d.mu.Unlock()
		bio.Done(bio)
	}()
}

func (d *stubDevice) ID() DeviceID { return NewDeviceID("/stub") }

func (d *stubDevice) Size() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.data)), nil
}

func (d *stubDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *stubDevice) counts() (writes, flushes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes, d.flushes
}

func (d *stubDevice) snapshot() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return bytes.Clone(d.data)
}

func stubOpener(dev *stubDevice) DeviceOpener {
	return DeviceOpenerFunc(func(path string) (Device, error) {
		return dev, nil
	})
}
