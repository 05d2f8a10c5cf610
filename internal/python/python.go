// Package python runs the bundled helper scripts through uv.
package python

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/kyleking/text2sql-router/internal/errors"
	"github.com/kyleking/text2sql-router/internal/logging"
)

//go:embed scripts/*
var scriptFiles embed.FS

// EmbedScript is the sentence-transformers embedding helper.
const EmbedScript = "embed.py"

const uvSyncTimeout = 10 * time.Minute

// FindUV locates the uv binary in PATH.
func FindUV() (string, error) {
	uvPath, err := exec.LookPath("uv")
	if err != nil {
		return "", errors.New(errors.ErrTypeConfig, "uv not found in PATH").
			WithSuggestion("Install uv from https://docs.astral.sh/uv/getting-started/installation/").
			WithSuggestion("Or switch embedding.provider to ollama, genai or hash")
	}

	return uvPath, nil
}

// Environment is an extracted uv project holding the helper scripts.
type Environment struct {
	UVPath     string
	ProjectDir string
}

// EnsureEnvironment extracts the embedded scripts to cacheDir/python and runs
// uv sync so their dependencies are installed.
func EnsureEnvironment(ctx context.Context, uvPath, cacheDir string) (*Environment, error) {
	projectDir := filepath.Join(cacheDir, "python")

	if err := extractScripts(projectDir); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeFileSystem, "failed to extract Python scripts")
	}

	if err := uvSync(ctx, uvPath, projectDir); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeBackend, "failed to sync Python environment")
	}

	return &Environment{UVPath: uvPath, ProjectDir: projectDir}, nil
}

// Command builds an exec.Cmd that runs a script via uv.
func (e *Environment) Command(ctx context.Context, scriptName string, args ...string) *exec.Cmd {
	scriptPath := filepath.Join(e.ProjectDir, scriptName)

	cmdArgs := []string{
		"run",
		"--project", e.ProjectDir,
		"--quiet",
		"python", scriptPath,
	}
	cmdArgs = append(cmdArgs, args...)

	return exec.CommandContext(ctx, e.UVPath, cmdArgs...)
}

func extractScripts(projectDir string) error {
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}

	return fs.WalkDir(scriptFiles, "scripts", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel("scripts", path)
		if err != nil {
			return err
		}

		targetPath := filepath.Join(projectDir, relPath)

		if d.IsDir() {
			return os.MkdirAll(targetPath, 0o755)
		}

		content, err := scriptFiles.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read embedded file %s: %w", path, err)
		}

		return os.WriteFile(targetPath, content, 0o644)
	})
}

func uvSync(ctx context.Context, uvPath, projectDir string) error {
	ctx, cancel := context.WithTimeout(ctx, uvSyncTimeout)
	defer cancel()

	logger := logging.WithField("project", projectDir)
	logger.Info("Syncing Python environment")

	out := logger.Writer()
	defer out.Close()

	cmd := exec.CommandContext(ctx, uvPath, "sync", "--project", projectDir, "--quiet")
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("uv sync timed out (this may happen on first run while installing torch)")
		}

		return fmt.Errorf("uv sync failed: %w", err)
	}

	return nil
}
