package cryptdev

import (
	"fmt"
	"sync"
)

// SessionID is an opaque handle to a keyed cipher held by a Provider
type SessionID uint64

// Job is a single encrypt or decrypt request against a session. The provider
// transforms Data in place using IV and then invokes Callback exactly once
// per dispatch. A Callback observing ErrBusy must redispatch the job.
type Job struct {
	Session   SessionID
	Direction Direction
	Data      []byte
	IV        [IVSize]byte // Explicit IV, always present
	Err       error
	Callback  func(*Job)
}

// Provider is an asynchronous symmetric-cipher engine
type Provider interface {
	// NewSession keys a cipher for the algorithm. The key is copied.
	NewSession(alg Algorithm, key []byte) (SessionID, error)

	// Dispatch queues a job. It must not block on job completion and may be
	// called from within a Callback. A non-nil error means the job was not
	// queued and its Callback will not run.
	Dispatch(job *Job) error

	// FreeSession releases a session
	FreeSession(sid SessionID) error
}

// dispatchJob hands a job to the provider, completing it with the dispatch
// error if it could not be queued, so every dispatched job completes
func dispatchJob(p Provider, job *Job) {
	if err := p.Dispatch(job); err != nil {
		job.Err = err
		job.Callback(job)
	}
}

// sessionTable maps session ids to keyed ciphers
type sessionTable struct {
	mu       sync.RWMutex
	next     uint64
	sessions map[SessionID]*session
}

type session struct {
	alg    Algorithm
	cipher sectorCipher
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[SessionID]*session)}
}

func (t *sessionTable) open(alg Algorithm, key []byte) (SessionID, error) {
	if err := ValidateSessionKey(alg, key); err != nil {
		return 0, err
	}

	sc, err := newSectorCipher(alg, key)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSessionCreationFailed, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	sid := SessionID(t.next)
	t.sessions[sid] = &session{alg: alg, cipher: sc}
	return sid, nil
}

func (t *sessionTable) lookup(sid SessionID) (*session, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[sid]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSession, sid)
	}
	return s, nil
}

func (t *sessionTable) close(sid SessionID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[sid]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSession, sid)
	}
	delete(t.sessions, sid)
	return nil
}

func (t *sessionTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// run performs a job synchronously, converting a panic into the job error
func (t *sessionTable) run(job *Job) {
	defer func() {
		if r := recover(); r != nil {
			job.Err = fmt.Errorf("panic in cipher job: %v", r)
		}
	}()

	s, err := t.lookup(job.Session)
	if err != nil {
		job.Err = err
		return
	}
	job.Err = s.cipher.Crypt(job.Direction, job.Data, job.IV[:])
}
