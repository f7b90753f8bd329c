//go:build linux

package ioring

import (
	"fmt"

	"github.com/pawelgaczynski/giouring"
)

// kernelRing backs the Normal manager (spec.md §4.F) with a real
// io_uring instance via giouring, the same library the teacher's
// go.mod already pins for uring access. Unlike the teacher's
// control-plane ring, this one submits plain READV/WRITEV/FSYNC
// against arbitrary file descriptors carried on each Request.
type kernelRing struct {
	ring *giouring.Ring
}

func newKernelRing(cfg Config) (Ring, error) {
	ring, err := giouring.CreateRing(cfg.Entries)
	if err != nil {
		return nil, fmt.Errorf("ioring: io_uring_setup: %w", err)
	}
	return &kernelRing{ring: ring}, nil
}

func (r *kernelRing) Prepare(req Request) error {
	sqe := r.ring.GetSQE()
	if sqe == nil {
		return ErrRingFull
	}
	switch req.Op {
	case OpReadv:
		sqe.PrepareReadv(uint64(req.FD), req.Iovecs, uint64(req.Offset))
	case OpWritev:
		sqe.PrepareWritev(uint64(req.FD), req.Iovecs, uint64(req.Offset))
	case OpFsync:
		sqe.PrepareFsync(uint64(req.FD), 0)
	}
	sqe.UserData = req.UserData
	return nil
}

func (r *kernelRing) Submit() (int, error) {
	n, err := r.ring.Submit()
	return int(n), err
}

func (r *kernelRing) WaitCompletions(minComplete int) ([]Result, error) {
	if minComplete <= 0 {
		return r.peekAll(), nil
	}
	cqe, err := r.ring.WaitCQEs(uint32(minComplete))
	if err != nil {
		return nil, fmt.Errorf("ioring: wait cqe: %w", err)
	}
	_ = cqe
	return r.peekAll(), nil
}

func (r *kernelRing) peekAll() []Result {
	var out []Result
	for {
		cqe, err := r.ring.PeekCQE()
		if err != nil || cqe == nil {
			break
		}
		out = append(out, Result{UserData: cqe.UserData, Res: cqe.Res})
		r.ring.CQESeen(cqe)
	}
	return out
}

func (r *kernelRing) Close() error {
	r.ring.QueueExit()
	return nil
}
