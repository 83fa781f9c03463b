package registry_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudk/fxchain/internal/mock"
	"github.com/dudk/fxchain/registry"
	"github.com/dudk/fxchain/unit"
)

var errTest = errors.New("test error")

// dir creates empty artifact files.
func dir(t *testing.T, files ...string) string {
	t.Helper()
	d := t.TempDir()
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(d, f), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(d, "nested.so"), 0o755))
	return d
}

func factory(u unit.Unit) unit.Factory {
	return func() unit.Unit {
		return u
	}
}

func TestLoad(t *testing.T) {
	type params struct {
		artifacts map[string]*mock.Artifact
		units     []string
	}
	testLoad := func(p params) func(*testing.T) {
		return func(t *testing.T) {
			files := make([]string, 0, len(p.artifacts))
			for name := range p.artifacts {
				files = append(files, name)
			}
			r, err := registry.New(
				dir(t, append(files, "readme.txt")...),
				registry.WithOpener(&mock.Opener{Artifacts: p.artifacts}),
				registry.WithExtension(".so"),
			)
			require.NoError(t, err)
			defer r.Close()
			assert.Equal(t, p.units, r.Names())
			assert.Len(t, r.Catalog(), len(p.units))
		}
	}

	t.Run("all loaded", testLoad(params{
		artifacts: map[string]*mock.Artifact{
			"a.so": {Factory: factory(&mock.Unit{Name: "Passthrough", Parameters: []string{"Param1", "Param2"}})},
			"b.so": {Factory: factory(&mock.Unit{Name: "SimpleDelay"})},
		},
		units: []string{"Passthrough", "SimpleDelay"},
	}))
	t.Run("failing artifacts skipped", testLoad(params{
		artifacts: map[string]*mock.Artifact{
			"a.so":      {Factory: factory(&mock.Unit{Name: "Passthrough"})},
			"open.so":   {ErrorOnOpen: errTest},
			"lookup.so": {ErrorOnLookup: errTest},
			"nil.so":    {Factory: func() unit.Unit { return nil }},
			"panic.so":  {Factory: func() unit.Unit { panic("boom") }},
			"empty.so":  {Factory: factory(&mock.Unit{})},
		},
		units: []string{"Passthrough"},
	}))
	t.Run("nothing loaded", testLoad(params{
		artifacts: map[string]*mock.Artifact{
			"open.so": {ErrorOnOpen: errTest},
		},
		units: []string{},
	}))
}

func TestFailedArtifactClosed(t *testing.T) {
	a := &mock.Artifact{ErrorOnLookup: errTest}
	r, err := registry.New(
		dir(t, "a.so"),
		registry.WithOpener(&mock.Opener{Artifacts: map[string]*mock.Artifact{"a.so": a}}),
		registry.WithExtension(".so"),
	)
	require.NoError(t, err)
	assert.True(t, a.Closed)
	assert.NoError(t, r.Close())
}

func TestMissingDir(t *testing.T) {
	_, err := registry.New(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestUnit(t *testing.T) {
	u := &mock.Unit{Name: "SimpleDistortion", Parameters: []string{"Gain", "Level"}}
	r, err := registry.New(
		dir(t, "dist.so"),
		registry.WithOpener(&mock.Opener{Artifacts: map[string]*mock.Artifact{
			"dist.so": {Factory: factory(u)},
		}}),
		registry.WithExtension(".so"),
	)
	require.NoError(t, err)
	defer r.Close()

	got, err := r.Unit("SimpleDistortion")
	require.NoError(t, err)
	assert.Same(t, u, got)
	_, err = r.Unit("Missing")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	// catalog is a snapshot
	c := r.Catalog()
	c["SimpleDistortion"].Parameters[0] = "changed"
	assert.Equal(t, []string{"Gain", "Level"}, r.Catalog()["SimpleDistortion"].Parameters)
}

func TestDuplicateLastWins(t *testing.T) {
	first := &mock.Unit{Name: "Passthrough", Parameters: []string{"first"}}
	second := &mock.Unit{Name: "Passthrough", Parameters: []string{"second"}}
	r, err := registry.New(
		dir(t, "a.so", "b.so"),
		registry.WithOpener(&mock.Opener{Artifacts: map[string]*mock.Artifact{
			"a.so": {Factory: factory(first)},
			"b.so": {Factory: factory(second)},
		}}),
		registry.WithExtension(".so"),
	)
	require.NoError(t, err)
	defer r.Close()

	got, err := r.Unit("Passthrough")
	require.NoError(t, err)
	assert.Same(t, second, got)
	assert.True(t, first.Closed)
}

func TestClose(t *testing.T) {
	rec := &mock.Recorder{}
	r, err := registry.New(
		dir(t, "a.so", "b.so"),
		registry.WithOpener(&mock.Opener{Artifacts: map[string]*mock.Artifact{
			"a.so": {Name: "a.so", Recorder: rec, Factory: factory(&mock.Unit{Name: "A", Recorder: rec})},
			"b.so": {Name: "b.so", Recorder: rec, Factory: factory(&mock.Unit{Name: "B", Recorder: rec})},
		}}),
		registry.WithExtension(".so"),
	)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	events := rec.Events()
	require.Len(t, events, 4)
	assert.ElementsMatch(t, []string{"unit:A", "unit:B"}, events[:2])
	assert.Equal(t, []string{"artifact:b.so", "artifact:a.so"}, events[2:])
	assert.Empty(t, r.Catalog())
}

func TestCloseError(t *testing.T) {
	r, err := registry.New(
		dir(t, "a.so"),
		registry.WithOpener(&mock.Opener{Artifacts: map[string]*mock.Artifact{
			"a.so": {
				Factory: factory(&mock.Unit{Name: "A", Hooks: mock.Hooks{ErrorOnClose: errTest}}),
				Hooks:   mock.Hooks{ErrorOnClose: errTest},
			},
		}}),
		registry.WithExtension(".so"),
	)
	require.NoError(t, err)
	assert.ErrorIs(t, r.Close(), errTest)
}

func TestReload(t *testing.T) {
	rec := &mock.Recorder{}
	calls := 0
	opener := &mock.Opener{Artifacts: map[string]*mock.Artifact{
		"a.so": {Name: "a.so", Recorder: rec, Factory: func() unit.Unit {
			calls++
			return &mock.Unit{Name: "A", Recorder: rec}
		}},
	}}
	d := dir(t, "a.so")
	r, err := registry.New(d, registry.WithOpener(opener), registry.WithExtension(".so"))
	require.NoError(t, err)
	defer r.Close()
	first, err := r.Unit("A")
	require.NoError(t, err)

	require.NoError(t, r.Reload())
	assert.Equal(t, d, r.Dir())
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"unit:A", "artifact:a.so"}, rec.Events())
	second, err := r.Unit("A")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestStaged(t *testing.T) {
	d := t.TempDir()
	path := filepath.Join(d, "delay.so")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	var opened []string
	staged := registry.Staged{
		Dir: t.TempDir(),
		Opener: registry.OpenerFunc(func(p string) (registry.Artifact, error) {
			opened = append(opened, p)
			return &mock.Artifact{Name: filepath.Base(p)}, nil
		}),
	}
	open := func() {
		a, err := staged.Open(path)
		require.NoError(t, err)
		require.NoError(t, a.Close())
	}

	open()
	open()
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	open()

	require.Len(t, opened, 3)
	assert.NotEqual(t, path, opened[0])
	assert.Equal(t, "delay.so", filepath.Base(opened[0]))
	// same content shares a copy, a rebuilt file gets a new one
	assert.Equal(t, opened[0], opened[1])
	assert.NotEqual(t, opened[1], opened[2])
	content, err := os.ReadFile(opened[2])
	require.NoError(t, err)
	assert.Equal(t, "v2", string(content))

	_, err = staged.Open(filepath.Join(d, "missing.so"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReloadRebuiltArtifact(t *testing.T) {
	var opened []string
	opener := &mock.Opener{Artifacts: map[string]*mock.Artifact{
		"a.so": {Name: "a.so", Factory: factory(&mock.Unit{Name: "A"})},
	}}
	d := dir(t)
	path := filepath.Join(d, "a.so")
	require.NoError(t, os.WriteFile(path, []byte("build 1"), 0o644))
	r, err := registry.New(d,
		registry.WithOpener(registry.Staged{
			Dir: t.TempDir(),
			Opener: registry.OpenerFunc(func(p string) (registry.Artifact, error) {
				opened = append(opened, p)
				return opener.Open(p)
			}),
		}),
		registry.WithExtension(".so"),
	)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, os.WriteFile(path, []byte("build 2"), 0o644))
	require.NoError(t, r.Reload())
	require.Len(t, opened, 2)
	assert.NotEqual(t, opened[0], opened[1])
	assert.Equal(t, []string{"A"}, r.Names())
}

func TestExtension(t *testing.T) {
	assert.Contains(t, []string{".so", ".dylib", ".dll"}, registry.Extension())
}
