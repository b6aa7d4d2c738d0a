//go:build darwin
// +build darwin

// Stub implementation for development on MacOS, where the recorder
// runs in web-only mode without capture.
package main

import "go.uber.org/zap"

// InitBPF returns a nil reader and no error so the program can start
// without BPF support.
func InitBPF(logger *zap.SugaredLogger, objPath string) (PerfReader, func(), error) {
	logger.Info("BPF monitoring not available on MacOS, starting in web-only mode")
	return nil, nil, nil
}
