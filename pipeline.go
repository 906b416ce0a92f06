package cryptdev

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Strategy starts a request and returns without waiting for it. req.Done is
// called exactly once, with req.Err set on failure. Reads are issued to the
// device and decrypted on completion; writes are encrypted into a staging
// buffer first. Other commands pass through to the device.
func (t *Target) Strategy(req *Request) {
	if req == nil {
		return
	}
	req.start = time.Now()
	req.Err = nil

	if !t.enter() {
		req.Err = ErrTargetDestroyed
		if req.Done != nil {
			req.Done(req)
		}
		return
	}
	t.metrics.inflight.Inc()

	if err := ValidateRequest(req); err != nil {
		t.logger.WithError(err).Debug("Rejected block request")
		t.finish(req, err)
		return
	}

	// Device offset of the request
	offset := req.Offset + int64(t.blockOffset)*SectorSize

	switch req.Cmd {
	case CmdRead:
		t.device.Strategy(&BlockIO{
			Cmd:    CmdRead,
			Offset: offset,
			Data:   req.Data,
			Done: func(bio *BlockIO) {
				t.readDone(req, bio)
			},
		})
	case CmdWrite:
		t.startWrite(req, offset)
	default:
		t.device.Strategy(&BlockIO{
			Cmd:    req.Cmd,
			Offset: offset,
			Data:   req.Data,
			Done: func(bio *BlockIO) {
				t.finish(req, t.deviceError(req.Cmd, bio))
			},
		})
	}
}

// finish completes a request. The target stops counting it before Done
// runs, so Done may hand the request's buffers back to the caller freely.
func (t *Target) finish(req *Request, err error) {
	req.Err = err
	t.metrics.inflight.Dec()
	t.metrics.observeRequest(req.Cmd, req.start, err)
	t.inflight.Done()
	if req.Done != nil {
		req.Done(req)
	}
}

func (t *Target) deviceError(cmd Cmd, bio *BlockIO) error {
	if bio.Err == nil {
		return nil
	}
	t.logger.WithError(bio.Err).WithFields(logrus.Fields{
		"cmd":    cmd.String(),
		"offset": bio.Offset,
	}).Warn("Underlying device request failed")
	return NewIOError(cmd.String(), t.device.ID().Path, bio.Offset, bio.Err)
}

// readDone decrypts the caller's buffer in place once the device read lands
func (t *Target) readDone(req *Request, bio *BlockIO) {
	if err := t.deviceError(CmdRead, bio); err != nil {
		t.finish(req, err)
		return
	}
	op := t.newPendingOp(req, Decrypt, bio.Offset, req.Data)
	op.run()
}

// startWrite encrypts a copy of the caller's data. The caller's buffer is
// never modified.
func (t *Target) startWrite(req *Request, offset int64) {
	staging := make([]byte, len(req.Data))
	copy(staging, req.Data)

	op := t.newPendingOp(req, Encrypt, offset, staging)
	op.orig = req.Data
	op.run()
}

// pendingOp tracks the sector jobs of one request. The last sector to
// complete, whichever it is, finalizes the request.
type pendingOp struct {
	t      *Target
	req    *Request
	dir    Direction
	offset int64  // Device byte offset of buf
	buf    []byte // Transformed in place
	orig   []byte // Caller's buffer, restored after a write

	remaining atomic.Int32
	failed    atomic.Int32
	firstErr  atomic.Pointer[SectorError]

	sectors []sectorJob
}

// sectorJob is the cipher job of one sector
type sectorJob struct {
	op     *pendingOp
	sector int64 // Absolute sector on the device
	job    Job
}

func (t *Target) newPendingOp(req *Request, dir Direction, offset int64, buf []byte) *pendingOp {
	op := &pendingOp{
		t:       t,
		req:     req,
		dir:     dir,
		offset:  offset,
		buf:     buf,
		sectors: make([]sectorJob, len(buf)/SectorSize),
	}
	op.remaining.Store(int32(len(op.sectors)))
	return op
}

// run fans the request out into one IV and cipher job per sector
func (op *pendingOp) run() {
	t := op.t
	base := op.offset / SectorSize

	for i := range op.sectors {
		sj := &op.sectors[i]
		sj.op = op
		sj.sector = base + int64(i)
		sj.job = Job{
			Session:   t.session,
			Direction: op.dir,
			Data:      op.buf[i*SectorSize : (i+1)*SectorSize],
			Callback:  sj.cryptoDone,
		}
		t.ivgen.Generate(sj.job.IV[:], t.ivSector(sj.sector), sj.ivReady)
	}
}

// ivSector is the sector number fed to the IV generator. Unless FullWidthIV
// is set it is truncated to 32 bits and sign-extended, which keeps existing
// volumes larger than 1 TiB readable.
func (t *Target) ivSector(sector int64) int64 {
	if t.fullWidthIV {
		return sector
	}
	return int64(int32(sector))
}

func (sj *sectorJob) ivReady(err error) {
	if err != nil {
		sj.complete(fmt.Errorf("iv generation: %w", err))
		return
	}
	dispatchJob(sj.op.t.provider, &sj.job)
}

func (sj *sectorJob) cryptoDone(job *Job) {
	if errors.Is(job.Err, ErrBusy) {
		job.Err = nil
		sj.op.t.noteBusy()
		dispatchJob(sj.op.t.provider, job)
		return
	}
	sj.complete(job.Err)
}

// complete records one sector's outcome and finalizes after the last one
func (sj *sectorJob) complete(err error) {
	op := sj.op
	t := op.t
	dir := op.dir.String()

	t.metrics.sectors.WithLabelValues(dir).Inc()
	if err != nil {
		op.failed.Add(1)
		op.firstErr.CompareAndSwap(nil, &SectorError{
			Direction: op.dir,
			Sector:    sj.sector,
			Err:       err,
		})
		t.metrics.sectorFailures.WithLabelValues(dir).Inc()
		t.logger.WithError(err).WithFields(logrus.Fields{
			"direction": dir,
			"sector":    sj.sector,
		}).Error("Sector cipher job failed")
	}

	if op.remaining.Add(-1) == 0 {
		op.finalize()
	}
}

// sectorError returns the first recorded sector failure, if any. Only valid
// once every sector has completed.
func (op *pendingOp) sectorError() error {
	se := op.firstErr.Load()
	if se == nil {
		return nil
	}
	se.Failed = int(op.failed.Load())
	return se
}

func (op *pendingOp) finalize() {
	t := op.t
	req := op.req
	err := op.sectorError()

	if op.dir == Decrypt {
		t.finish(req, err)
		return
	}

	// A write with any failed sector never reaches the device
	if err != nil {
		t.finish(req, err)
		return
	}

	req.Data = op.buf
	t.device.Strategy(&BlockIO{
		Cmd:    CmdWrite,
		Offset: op.offset,
		Data:   op.buf,
		Done:   op.writeDone,
	})
}

// writeDone restores the caller's buffer whatever the device reported
func (op *pendingOp) writeDone(bio *BlockIO) {
	op.req.Data = op.orig
	op.t.finish(op.req, op.t.deviceError(CmdWrite, bio))
}
