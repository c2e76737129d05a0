//go:build !linux && !tinygo

package serial

func baudSupported(baud int) bool { return baud > 0 }
