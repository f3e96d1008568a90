package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/autoprofiled/internal/errors"
)

const (
	pidFile = "autoprofiled.pid"
)

// Path returns the PID file location, preferring the user's runtime
// directory since the daemon runs once per session.
func Path() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, pidFile)
}

// Write writes the current process ID to the PID file. It fails with
// ErrAlreadyRunning while another live process owns the file; a stale file
// is replaced.
func Write() error {
	errFactory := errors.New()
	path := Path()

	if bytes, err := os.ReadFile(path); err == nil {
		if running(strings.TrimSpace(string(bytes))) {
			return errFactory.WithData(errors.ErrAlreadyRunning, path)
		}
	} else if !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600)
	if err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

func running(content string) bool {
	pid, err := strconv.Atoi(content)
	if err != nil || pid <= 0 || pid == os.Getpid() {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Remove removes the PID file.
func Remove() error {
	if err := os.Remove(Path()); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	return nil
}
