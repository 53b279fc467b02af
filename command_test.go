package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dictor/get621/internal/config"
	"github.com/dictor/get621/internal/pipeline"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestExpandPaths(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.png"))
	touch(t, filepath.Join(dir, "b.JPG"))
	touch(t, filepath.Join(dir, "notes.txt"))
	touch(t, filepath.Join(dir, "nested", "c.webm"))
	touch(t, filepath.Join(dir, "explicit.bin"))

	t.Run("folder is walked and filtered", func(t *testing.T) {
		got, err := expandPaths([]string{dir})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{
			filepath.Join(dir, "a.png"),
			filepath.Join(dir, "b.JPG"),
			filepath.Join(dir, "nested", "c.webm"),
		}, got)
	})

	t.Run("explicit file is kept whatever its extension", func(t *testing.T) {
		got, err := expandPaths([]string{filepath.Join(dir, "explicit.bin")})
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(dir, "explicit.bin")}, got)
	})

	t.Run("glob and duplicates", func(t *testing.T) {
		got, err := expandPaths([]string{filepath.Join(dir, "*.png"), filepath.Join(dir, "a.png")})
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(dir, "a.png")}, got)
	})

	t.Run("nothing matches", func(t *testing.T) {
		got, err := expandPaths([]string{filepath.Join(dir, "missing-*.gif")})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestRelationMode(t *testing.T) {
	assert.Equal(t, pipeline.ModeNone, (&outputFlags{}).relationMode())
	assert.Equal(t, pipeline.ModeParents, (&outputFlags{parents: true}).relationMode())
	assert.Equal(t, pipeline.ModeChildren, (&outputFlags{children: true}).relationMode())
}

func TestCommandFlags(t *testing.T) {
	cfg = &config.Config{BaseURL: "https://e926.net", Workers: 1, IqdbFormat: "json"}

	t.Run("parents and children are exclusive", func(t *testing.T) {
		root := rootCommand()
		root.SetArgs([]string{"-p", "-c", "cat"})
		root.SetOut(io.Discard)
		assert.Error(t, root.Execute())
	})

	t.Run("direct save excludes output", func(t *testing.T) {
		root := rootCommand()
		root.SetArgs([]string{"reverse", "-d", "-o", "id", "image.png"})
		root.SetOut(io.Discard)
		assert.Error(t, root.Execute())
	})

	t.Run("pool id must be numeric", func(t *testing.T) {
		root := rootCommand()
		root.SetArgs([]string{"pool", "abc"})
		err := root.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pool id")
	})

	t.Run("similarity range", func(t *testing.T) {
		root := rootCommand()
		root.SetArgs([]string{"reverse", "-S", "120", "image.png"})
		err := root.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "similarity")
	})

	t.Run("url is validated", func(t *testing.T) {
		root := rootCommand()
		root.SetArgs([]string{"--url", "ftp://example", "pool", "1"})
		err := root.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid url")
	})
}
