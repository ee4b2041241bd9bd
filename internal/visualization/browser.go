package visualization

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
)

// OpenFile opens a rendered chart in the user's default viewer.
// It supports Linux (xdg-open), macOS (open), and Windows (cmd start).
func OpenFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve chart path: %w", err)
	}

	name, args, err := openCommand(runtime.GOOS, abs)
	if err != nil {
		return err
	}
	return exec.Command(name, args...).Start()
}

func openCommand(goos, target string) (string, []string, error) {
	switch goos {
	case "linux":
		return "xdg-open", []string{target}, nil
	case "darwin":
		return "open", []string{target}, nil
	case "windows":
		return "cmd", []string{"/c", "start", "", target}, nil
	default:
		return "", nil, fmt.Errorf("unsupported platform: %s", goos)
	}
}
