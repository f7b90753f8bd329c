package ioring

import "golang.org/x/sys/unix"

func readvAt(fd int, iovecs [][]byte, offset int64) (int, error) {
	return unix.Preadv(fd, iovecs, offset)
}

func writevAt(fd int, iovecs [][]byte, offset int64) (int, error) {
	return unix.Pwritev(fd, iovecs, offset)
}
