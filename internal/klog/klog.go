// Package klog provides the structured debug logger anoscore's core
// components use for the handful of diagnostics spec.md §7 calls "debug
// builds only": unknown work-item types, REMOTE_EXEC items naming an
// unregistered function, and TLB_SHOOTDOWN items received with no
// invalidator wired (all logged by package ipwi). It wraps logiface with the stumpy JSON backend, the same
// combination the teacher's own logiface-stumpy package demonstrates.
package klog

import (
	"io"
	"os"
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

var (
	mu     sync.Mutex
	logger = newLogger(os.Stderr)
)

func newLogger(w io.Writer) *logiface.Logger[*stumpy.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(),
		stumpy.L.WithWriter(logiface.WriterFunc[*stumpy.Event](func(e *stumpy.Event) error {
			_, err := w.Write(append(e.Bytes(), '\n'))
			return err
		})),
	)
}

// L returns the package logger. Safe for concurrent use; components should
// call this rather than caching the result, so SetOutput takes effect for
// subsequent log calls.
func L() *logiface.Logger[*stumpy.Event] {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// SetOutput redirects subsequent log output, for tests that want to capture
// or silence it.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(w)
}
