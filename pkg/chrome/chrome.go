package chrome

import (
	"os"
	"os/exec"
	"runtime"
)

var lookNames = []string{"google-chrome", "google-chrome-stable", "chromium-browser", "chromium"}

// FindExecPath returns the first Chrome or Chromium binary found in the
// usual install locations or on PATH, or "" when there is none.
func FindExecPath() string {
	var candidates []string
	switch runtime.GOOS {
	case "linux":
		candidates = []string{
			"/usr/bin/google-chrome-stable",
			"/usr/bin/google-chrome",
			"/usr/bin/chromium-browser",
			"/usr/bin/chromium",
			"/snap/bin/chromium",
			"/opt/google/chrome/google-chrome",
		}
	case "darwin":
		candidates = []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	case "windows":
		candidates = []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		}
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	for _, name := range lookNames {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}
