//go:build !linux

package ioring

import "errors"

// newKernelRing has no backing implementation off Linux; New returns
// this error to its caller.
func newKernelRing(cfg Config) (Ring, error) {
	return nil, errors.New("ioring: no kernel ring backend on this platform")
}
