// Package browser opens generated reports in the desktop browser.
package browser

import (
	"fmt"
	"net/url"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Open opens the given URL in the system default browser. It does not wait
// for the browser to exit.
func Open(target string) error {
	name, args := command(runtime.GOOS, target)
	if err := exec.Command(name, args...).Start(); err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	return nil
}

func command(goos, target string) (string, []string) {
	switch goos {
	case "windows":
		return "cmd", []string{"/c", "start", "", target}
	case "darwin":
		return "open", []string{target}
	default: // linux + others
		return "xdg-open", []string{target}
	}
}

// FileURL returns the file:// URL for path.
func FileURL(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	p := filepath.ToSlash(abs)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p // C:/x -> /C:/x
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}
