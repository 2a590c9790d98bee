// Package localopen opens a folder in the relay host's file manager. It
// backs the legacy single-host mode: an openFolder directive with no target
// acts on the relay machine itself.
package localopen

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
)

// Opener opens a folder on the local machine.
type Opener interface {
	Open(ctx context.Context, path string) error
}

// Exec opens folders by spawning the platform file manager.
type Exec struct{}

// Open runs the platform-specific open command for path.
func (Exec) Open(ctx context.Context, path string) error {
	if path == "" {
		return errors.New("empty folder path")
	}
	name, args := command(runtime.GOOS, path)
	if err := exec.CommandContext(ctx, name, args...).Run(); err != nil {
		return fmt.Errorf("open folder %q: %w", path, err)
	}
	return nil
}

// command returns the file-manager invocation for the given platform.
func command(goos, path string) (string, []string) {
	switch goos {
	case "windows":
		return "explorer", []string{path}
	case "darwin":
		return "open", []string{path}
	default:
		return "xdg-open", []string{path}
	}
}
