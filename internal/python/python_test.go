package python

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindUV(t *testing.T) {
	uvPath, err := FindUV()
	if err != nil {
		t.Skipf("uv not installed: %v", err)
	}

	assert.NotEmpty(t, uvPath)
}

func TestExtractScripts(t *testing.T) {
	projectDir := t.TempDir()

	require.NoError(t, extractScripts(projectDir))

	for _, name := range []string{"pyproject.toml", EmbedScript} {
		_, err := os.Stat(filepath.Join(projectDir, name))
		assert.NoError(t, err, "expected %s to be extracted", name)
	}
}

func TestExtractScripts_Idempotent(t *testing.T) {
	projectDir := t.TempDir()

	require.NoError(t, extractScripts(projectDir))
	require.NoError(t, extractScripts(projectDir))
}

func TestCommandBuildsUVInvocation(t *testing.T) {
	env := &Environment{UVPath: "/usr/bin/uv", ProjectDir: "/tmp/project"}

	cmd := env.Command(context.Background(), EmbedScript, "--model", "all-MiniLM-L6-v2", "--stdin")

	assert.Equal(t, []string{
		"/usr/bin/uv", "run",
		"--project", "/tmp/project",
		"--quiet",
		"python", "/tmp/project/embed.py",
		"--model", "all-MiniLM-L6-v2", "--stdin",
	}, cmd.Args)
}

func TestEnsureEnvironment(t *testing.T) {
	if testing.Short() {
		t.Skip("uv sync installs torch")
	}

	uvPath, err := FindUV()
	if err != nil {
		t.Skipf("uv not installed: %v", err)
	}

	cacheDir := t.TempDir()

	env, err := EnsureEnvironment(context.Background(), uvPath, cacheDir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(cacheDir, "python"), env.ProjectDir)
	_, err = os.Stat(filepath.Join(env.ProjectDir, "pyproject.toml"))
	assert.NoError(t, err)
}
