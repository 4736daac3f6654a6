// Package profiling backs the --profile-cpu, --profile-mem, and
// --profile-trace flags. Index builds over large Confluence spaces are
// embedding-bound; the captured files feed go tool pprof and go tool trace.
package profiling

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Profiler owns at most one CPU profile and one trace per process.
type Profiler struct {
	cpuFile   *os.File
	traceFile *os.File
}

func NewProfiler() *Profiler {
	return &Profiler{}
}

// StartCPU begins CPU profiling into path. Call the returned stop function
// before the process exits or the profile is truncated.
func (p *Profiler) StartCPU(path string) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create CPU profile %s: %w", path, err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("start CPU profile: %w", err)
	}
	p.cpuFile = f

	return func() {
		pprof.StopCPUProfile()
		p.cpuFile.Close()
		p.cpuFile = nil
	}, nil
}

// WriteHeap captures a heap profile into path. A GC runs first so the
// profile shows live objects, not garbage awaiting collection.
func (p *Profiler) WriteHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create heap profile %s: %w", path, err)
	}
	defer f.Close()

	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("write heap profile: %w", err)
	}
	return nil
}

// StartTrace begins an execution trace into path. Call the returned stop
// function before exit.
func (p *Profiler) StartTrace(path string) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create trace %s: %w", path, err)
	}
	if err := trace.Start(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("start trace: %w", err)
	}
	p.traceFile = f

	return func() {
		trace.Stop()
		p.traceFile.Close()
		p.traceFile = nil
	}, nil
}
