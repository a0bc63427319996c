package pprof

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartStop(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profiles")

	p, err := Start(dir)
	require.NoError(t, err)
	p.Stop()

	for _, name := range []string{"cpu.pprof", "memory.pprof", "memory_continuous.pprof"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestStopNil(t *testing.T) {
	var p *Profiler
	assert.NotPanics(t, p.Stop)
}
