package ioring

import (
	"syscall"
)

// syscallErrno narrows a positive errno magnitude back to a
// syscall.Errno for error formatting.
func syscallErrno(magnitude int32) error {
	if magnitude == 0 {
		return nil
	}
	return syscall.Errno(magnitude)
}

// syncRing is a synchronous Ring: every Prepare is executed
// immediately, so Submit and WaitCompletions just hand back what
// already ran. New never returns it; it is exercised directly by this
// package's tests.
type syncRing struct {
	done []Result
}

func newSyncRing() *syncRing { return &syncRing{} }

func (r *syncRing) Prepare(req Request) error {
	res := execSync(req)
	r.done = append(r.done, res)
	return nil
}

func (r *syncRing) Submit() (int, error) {
	n := len(r.done)
	return n, nil
}

func (r *syncRing) WaitCompletions(minComplete int) ([]Result, error) {
	out := r.done
	r.done = nil
	return out, nil
}

func (r *syncRing) Close() error { return nil }

func execSync(req Request) Result {
	var n int
	var err error
	switch req.Op {
	case OpReadv:
		n, err = readvAt(req.FD, req.Iovecs, req.Offset)
	case OpWritev:
		n, err = writevAt(req.FD, req.Iovecs, req.Offset)
	case OpFsync:
		err = syscall.Fsync(req.FD)
	}
	if err != nil {
		errno, ok := err.(syscall.Errno)
		if !ok {
			errno = syscall.EIO
		}
		return Result{UserData: req.UserData, Res: -int32(errno)}
	}
	return Result{UserData: req.UserData, Res: int32(n)}
}
