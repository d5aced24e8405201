package process

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// ExeName returns the platform-specific executable file name for name.
func ExeName(name, goos string) string {
	if goos == "windows" {
		return name + ".exe"
	}
	return name
}

// Candidates lists the bundled executable locations for name under resourceDir,
// in priority order. Bundles may place resources one level deeper, so both
// layouts are tried:
//
//	<resourceDir>/backend/<name>/<exe>
//	<resourceDir>/resources/backend/<name>/<exe>
func Candidates(resourceDir, name, goos string) []string {
	exe := ExeName(name, goos)
	return []string{
		filepath.Join(resourceDir, "backend", name, exe),
		filepath.Join(resourceDir, "resources", "backend", name, exe),
	}
}

// Resolve returns the first candidate that exists as a regular file.
func Resolve(candidates []string) (string, bool) {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		fi, err := os.Stat(c)
		if err == nil && fi.Mode().IsRegular() {
			return c, true
		}
	}
	return "", false
}

// DefaultResourceDir derives the application resource directory from the
// running executable. Inside a macOS bundle (Contents/MacOS) it is the
// sibling Resources folder; elsewhere it is the executable's own folder.
func DefaultResourceDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoResourceDir, err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return resourceDirFor(exe, runtime.GOOS), nil
}

func resourceDirFor(exe, goos string) string {
	dir := filepath.Dir(exe)
	if goos == "darwin" && filepath.Base(dir) == "MacOS" && filepath.Base(filepath.Dir(dir)) == "Contents" {
		return filepath.Join(filepath.Dir(dir), "Resources")
	}
	return dir
}
