package preflight

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// CheckDirectoryAccess passes when path is an existing directory the daemon
// can list, create files in, and traverse. Detail always starts with the path.
func CheckDirectoryAccess(name, path string) Result {
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{Name: name, Detail: "path not configured"}
	}
	if reason := directoryProblem(path); reason != "" {
		return Result{Name: name, Detail: path + ": " + reason}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

func directoryProblem(path string) string {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "does not exist"
	case err != nil:
		return err.Error()
	case !info.IsDir():
		return "not a directory"
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return "permission denied (" + err.Error() + ")"
	}
	return ""
}
