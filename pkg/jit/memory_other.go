//go:build !unix

package jit

func mapRegion(size int) ([]byte, error) {
	return nil, ErrUnsupportedPlatform
}

func protectExec(mem []byte) error {
	return ErrUnsupportedPlatform
}

func unmapRegion(mem []byte) error {
	return ErrUnsupportedPlatform
}
