package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/afero"
)

// LockFile marks a run directory as owned by a live process
const LockFile = ".lock"

// ErrRunLocked is returned when another live process holds the run
var ErrRunLocked = errors.New("run is locked by another process")

// processAlive is replaced in tests
var processAlive = func(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

// AcquireRunLock creates <runDir>/.lock holding the current pid. A lock left
// by a dead process is replaced once.
func AcquireRunLock(fs afero.Fs, home, runID string) (release func() error, err error) {
	dir := RunDir(home, runID)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, LockFile)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := f.Write([]byte(strconv.Itoa(os.Getpid())))
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = fs.Remove(path)
				return nil, fmt.Errorf("write lock %s: %w", path, errors.Join(werr, cerr))
			}
			return func() error { return fs.Remove(path) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock %s: %w", path, err)
		}

		data, rerr := afero.ReadFile(fs, path)
		if rerr != nil {
			return nil, fmt.Errorf("read lock %s: %w", path, rerr)
		}
		pid, perr := strconv.Atoi(strings.TrimSpace(string(data)))
		if perr == nil && processAlive(pid) {
			return nil, fmt.Errorf("%w (pid %d)", ErrRunLocked, pid)
		}
		if err := fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock %s: %w", path, err)
		}
	}
	return nil, ErrRunLocked
}
