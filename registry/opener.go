package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"plugin"
	"runtime"

	"github.com/dudk/fxchain/unit"
)

type (
	// Opener opens unit artifacts.
	Opener interface {
		Open(path string) (Artifact, error)
	}

	// Artifact is an opened shared library.
	Artifact interface {
		// Lookup resolves the factory exported under symbol.
		Lookup(symbol string) (unit.Factory, error)
		// Close releases the library handle. It is called only after
		// every unit produced by the artifact is released.
		Close() error
	}

	// OpenerFunc allows to use a function as Opener.
	OpenerFunc func(path string) (Artifact, error)
)

// Open calls fn.
func (fn OpenerFunc) Open(path string) (Artifact, error) {
	return fn(path)
}

// GoPlugin opens artifacts built with -buildmode=plugin.
type GoPlugin struct{}

type goArtifact struct {
	path string
	p    *plugin.Plugin
}

// Open loads the plugin at path.
func (GoPlugin) Open(path string) (Artifact, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return &goArtifact{path: path, p: p}, nil
}

// Lookup accepts both a func() unit.Unit and a unit.Factory symbol.
func (a *goArtifact) Lookup(symbol string) (unit.Factory, error) {
	sym, err := a.p.Lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFactory, err)
	}
	switch fn := sym.(type) {
	case func() unit.Unit:
		return fn, nil
	case *unit.Factory:
		return *fn, nil
	default:
		return nil, fmt.Errorf("%w: %s has type %T", ErrNoFactory, symbol, sym)
	}
}

// Close drops the reference. Go plugins are never unmapped by the runtime.
func (a *goArtifact) Close() error {
	a.p = nil
	return nil
}

// Staged opens a content addressed copy of every artifact. The runtime
// keeps a plugin opened once for the life of the process and returns it
// again for the same path, so a rebuilt file is only picked up under a new
// path. Copies are kept in Dir and shared by artifacts with equal content.
type Staged struct {
	Dir    string
	Opener Opener
}

// StageDir is the default directory for staged copies.
func StageDir() string {
	return filepath.Join(os.TempDir(), "fxchain-units")
}

// Open copies the artifact into Dir and opens the copy.
func (s Staged) Open(path string) (Artifact, error) {
	staged, err := s.stage(path)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", path, err)
	}
	return s.Opener.Open(staged)
}

// stage returns Dir/<content hash>/<file name>, copying the file there if
// it is not staged yet.
func (s Staged) stage(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()
	h := sha256.New()
	if _, err := io.Copy(h, src); err != nil {
		return "", err
	}
	dir := filepath.Join(s.Dir, hex.EncodeToString(h.Sum(nil))[:16])
	dst := filepath.Join(dir, filepath.Base(path))
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, ".stage-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Chmod(0o755); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}
	return dst, nil
}

// Extension returns the dynamic library suffix of the platform.
func Extension() string {
	switch runtime.GOOS {
	case "darwin":
		return ".dylib"
	case "windows":
		return ".dll"
	default:
		return ".so"
	}
}
