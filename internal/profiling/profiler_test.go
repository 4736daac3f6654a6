package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartCPU_WritesProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpu.prof")

	p := NewProfiler()
	cleanup, err := p.StartCPU(path)
	require.NoError(t, err)
	cleanup()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestStartCPU_BadPath(t *testing.T) {
	p := NewProfiler()
	_, err := p.StartCPU(filepath.Join(t.TempDir(), "missing", "cpu.prof"))
	assert.Error(t, err)
}

func TestWriteHeap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.prof")

	require.NoError(t, NewProfiler().WriteHeap(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestStartTrace_WritesTrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.out")

	p := NewProfiler()
	cleanup, err := p.StartTrace(path)
	require.NoError(t, err)
	cleanup()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
