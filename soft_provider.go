package cryptdev

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/lightningnetwork/lnd/queue"
	"github.com/sirupsen/logrus"
)

// ProviderConfig controls the software cipher provider
type ProviderConfig struct {
	// Workers is the number of worker goroutines running cipher jobs.
	// If 0, defaults to runtime.NumCPU()
	Workers int

	// QueueBuffer sizes the channel in front of the unbounded job queue.
	// Defaults to 64
	QueueBuffer int

	// Logger receives worker events; defaults to the package logger
	Logger *logrus.Entry
}

// Validate checks if the provider configuration is valid
func (p *ProviderConfig) Validate() error {
	if p.Workers < 0 {
		return errors.New("provider workers cannot be negative")
	}
	if p.Workers > 1024 {
		return errors.New("provider workers must not exceed 1024")
	}
	if p.QueueBuffer < 0 {
		return errors.New("provider queue buffer cannot be negative")
	}
	return nil
}

// DefaultProviderConfig returns the default software provider configuration
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Workers:     runtime.NumCPU(),
		QueueBuffer: 64,
	}
}

// SoftProvider runs cipher jobs on a pool of worker goroutines. Jobs are
// queued without bound, so callbacks may dispatch follow-up jobs from
// worker context.
type SoftProvider struct {
	sessions *sessionTable
	jobs     *queue.ConcurrentQueue
	logger   *logrus.Entry

	mu     sync.RWMutex // Orders Dispatch against Close
	closed bool

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewSoftProvider starts a software provider
func NewSoftProvider(config ProviderConfig) (*SoftProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid provider config: %w", err)
	}

	numWorkers := config.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	buffer := config.QueueBuffer
	if buffer == 0 {
		buffer = 64
	}
	logger := config.Logger
	if logger == nil {
		logger = log.WithField("provider", "soft")
	}

	p := &SoftProvider{
		sessions: newSessionTable(),
		jobs:     queue.NewConcurrentQueue(buffer),
		logger:   logger,
		quit:     make(chan struct{}),
	}
	p.jobs.Start()

	for w := 0; w < numWorkers; w++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p, nil
}

// NewSession keys a cipher for the algorithm
func (p *SoftProvider) NewSession(alg Algorithm, key []byte) (SessionID, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return 0, ErrProviderClosed
	}
	return p.sessions.open(alg, key)
}

// Dispatch queues a job for a worker
func (p *SoftProvider) Dispatch(job *Job) error {
	if job == nil || job.Callback == nil {
		return errors.New("job and its callback cannot be nil")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProviderClosed
	}
	p.jobs.ChanIn() <- job
	return nil
}

// FreeSession releases a session
func (p *SoftProvider) FreeSession(sid SessionID) error {
	return p.sessions.close(sid)
}

// Close stops the workers. Jobs still queued are dropped, so every target
// using the provider must be destroyed first.
func (p *SoftProvider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.quit)
	p.wg.Wait()
	p.jobs.Stop()

	if n := p.sessions.len(); n > 0 {
		p.logger.WithField("sessions", n).Warn("Closing provider with open sessions")
	}
	return nil
}

func (p *SoftProvider) worker() {
	defer p.wg.Done()

	for {
		select {
		case item := <-p.jobs.ChanOut():
			job := item.(*Job)
			p.sessions.run(job)
			p.complete(job)

		case <-p.quit:
			return
		}
	}
}

// complete runs the job callback, keeping the worker alive if it panics
func (p *SoftProvider) complete(job *Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("panic", r).Error("Panic in cipher job callback")
		}
	}()
	job.Callback(job)
}
