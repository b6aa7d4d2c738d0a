//go:build linux
// +build linux

// Linux attach logic: loads the pre-built BPF object, binds its
// trigger programs to the four instrumentation points, and exposes the
// perf buffer as a platform-agnostic PerfReader.
package main

import (
	"fmt"
	"os"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/perf"
	"github.com/cilium/ebpf/rlimit"
	"go.uber.org/zap"
)

// perfReaderWrapper adapts the eBPF perf.Reader to the PerfReader
// interface used by the rest of the program.
type perfReaderWrapper struct {
	*perf.Reader
}

func (w *perfReaderWrapper) Read() (Record, error) {
	record, err := w.Reader.Read()
	if err != nil {
		return Record{}, err
	}
	return Record{
		RawSample:   record.RawSample,
		LostSamples: record.LostSamples,
	}, nil
}

// InitBPF loads the BPF object at objPath and attaches its programs:
// tracepoints for openat, process exec and setuid, and a kprobe on
// tcp_v4_connect. It returns a reader for the trigger buffer and a
// cleanup function that detaches everything in reverse order.
//
// Only the openat tracepoint is mandatory; failure to attach any other
// hook degrades coverage but keeps the recorder running.
func InitBPF(logger *zap.SugaredLogger, objPath string) (PerfReader, func(), error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, nil, fmt.Errorf("failed to remove memlock: %v", err)
	}

	spec, err := ebpf.LoadCollectionSpec(objPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load BPF spec from %s: %v", objPath, err)
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load BPF collection: %v", err)
	}

	var cleanupFuncs []func()
	cleanupFuncs = append(cleanupFuncs, coll.Close)
	cleanup := func() {
		for i := len(cleanupFuncs) - 1; i >= 0; i-- {
			cleanupFuncs[i]()
		}
	}

	triggersMap, ok := coll.Maps["triggers"]
	if !ok {
		cleanup()
		return nil, nil, fmt.Errorf("triggers map not found in %s", objPath)
	}

	reader, err := perf.NewReader(triggersMap, os.Getpagesize()*8)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to create perf reader: %v", err)
	}
	cleanupFuncs = append(cleanupFuncs, func() { reader.Close() })

	prog := func(name string) *ebpf.Program { return coll.Programs[name] }

	openTP, err := link.Tracepoint("syscalls", "sys_enter_openat", prog("trace_openat"), nil)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to attach openat tracepoint: %v", err)
	}
	cleanupFuncs = append(cleanupFuncs, func() { openTP.Close() })

	if execTP, err := link.Tracepoint("sched", "sched_process_exec", prog("trace_process_exec"), nil); err != nil {
		logger.Warnw("could not attach exec tracepoint", "error", err)
	} else {
		cleanupFuncs = append(cleanupFuncs, func() { execTP.Close() })
	}

	if setuidTP, err := link.Tracepoint("syscalls", "sys_enter_setuid", prog("trace_setuid"), nil); err != nil {
		logger.Warnw("could not attach setuid tracepoint", "error", err)
	} else {
		cleanupFuncs = append(cleanupFuncs, func() { setuidTP.Close() })
	}

	if connectKP, err := link.Kprobe("tcp_v4_connect", prog("trace_tcp_connect"), nil); err != nil {
		logger.Warnw("could not attach tcp_v4_connect kprobe", "error", err)
	} else {
		cleanupFuncs = append(cleanupFuncs, func() { connectKP.Close() })
	}

	return &perfReaderWrapper{reader}, cleanup, nil
}
