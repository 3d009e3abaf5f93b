package executor

import (
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// lookupEnv finds key in an environment list. Later entries win, matching
// how exec treats duplicates. A nil list means the process environment.
func lookupEnv(env []string, key string) (string, bool) {
	if env == nil {
		return os.LookupEnv(key)
	}
	prefix := key + "="
	for i := len(env) - 1; i >= 0; i-- {
		if strings.HasPrefix(env[i], prefix) {
			return env[i][len(prefix):], true
		}
	}
	return "", false
}

// searchPath returns the PATH children are resolved against: the one in
// env when it sets one, the shell's own otherwise.
func searchPath(env []string) string {
	if p, ok := lookupEnv(env, "PATH"); ok {
		return p
	}
	return os.Getenv("PATH")
}

func executable(file string) error {
	fi, err := os.Stat(file)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return unix.EISDIR
	}
	if err := unix.Access(file, unix.X_OK); err != nil {
		return &fs.PathError{Op: "access", Path: file, Err: err}
	}
	return nil
}

// lookPath resolves name the way exec.LookPath does, but against path
// instead of the process's PATH. Names containing a slash are not searched.
// An empty PATH element means the current directory, as for execvp.
func lookPath(name, path string) (string, error) {
	if strings.Contains(name, "/") {
		if err := executable(name); err != nil {
			return "", &exec.Error{Name: name, Err: err}
		}
		return name, nil
	}
	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			dir = "."
		}
		file := filepath.Join(dir, name)
		if err := executable(file); err == nil {
			if !filepath.IsAbs(file) {
				// os/exec refuses a bare relative name that was found
				// through PATH; make it explicit.
				file = "." + string(filepath.Separator) + file
			}
			return file, nil
		}
	}
	return "", &exec.Error{Name: name, Err: exec.ErrNotFound}
}

// LookPath resolves name against the PATH children of e will see.
func (e *Executor) LookPath(name string) (string, error) {
	return lookPath(name, searchPath(e.Env))
}
