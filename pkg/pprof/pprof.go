package pprof

import (
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SampleInterval is how often heap samples are appended while profiling.
var SampleInterval = 30 * time.Second

// Profiler writes a CPU profile plus periodic heap samples into one directory.
type Profiler struct {
	dir      string
	cpuFile  *os.File
	heapFile *os.File
	ticker   *time.Ticker
	done     chan struct{}
	wg       sync.WaitGroup
}

// DefaultDir is ~/.calendar-sync.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get user home directory")
	}
	return filepath.Join(home, ".calendar-sync"), nil
}

// Start begins CPU profiling and continuous memory sampling in dir.
func Start(dir string) (*Profiler, error) {
	if dir == "" {
		var err error
		if dir, err = DefaultDir(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create pprof directory")
	}

	cpuPath := filepath.Join(dir, "cpu.pprof")
	f, err := os.Create(cpuPath)
	if err != nil {
		return nil, errors.Wrap(err, "could not create CPU profile file")
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "could not start CPU profile")
	}
	log.Info().Str("path", cpuPath).Msg("CPU profiling started")

	p := &Profiler{dir: dir, cpuFile: f}
	if err := p.startHeapSampling(); err != nil {
		log.Error().Err(err).Msg("failed to start memory profiling")
	}
	return p, nil
}

func (p *Profiler) startHeapSampling() error {
	path := filepath.Join(p.dir, "memory_continuous.pprof")
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "could not create continuous memory profile file")
	}
	p.heapFile = f
	p.done = make(chan struct{})
	p.ticker = time.NewTicker(SampleInterval)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-p.ticker.C:
				runtime.GC()
				if err := pprof.WriteHeapProfile(p.heapFile); err != nil {
					log.Error().Err(err).Msg("failed to write memory profile sample")
				}
				_, _ = p.heapFile.WriteString("\n--- Memory Sample ---\n")
			case <-p.done:
				return
			}
		}
	}()
	log.Info().Str("path", path).Dur("interval", SampleInterval).Msg("continuous memory profiling started")
	return nil
}

// Stop ends profiling and writes a final heap profile.
func (p *Profiler) Stop() {
	if p == nil {
		return
	}
	pprof.StopCPUProfile()
	_ = p.cpuFile.Close()

	if p.ticker != nil {
		p.ticker.Stop()
		close(p.done)
		p.wg.Wait()
		_ = p.heapFile.Close()
	}

	memPath := filepath.Join(p.dir, "memory.pprof")
	f, err := os.Create(memPath)
	if err != nil {
		log.Error().Err(err).Str("path", memPath).Msg("could not create memory profile file")
		return
	}
	defer f.Close()

	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Error().Err(err).Str("path", memPath).Msg("could not write memory profile")
		return
	}
	log.Info().Str("path", memPath).Msg("memory profile written")
}
