package capture

import (
	_ "embed"

	"flowcraft/backend/internal/locator"
)

// BindingName is the page binding the shim posts events through.
const BindingName = "__flowcraftEmit"

//go:embed shim.js
var shimSource string

// Script is the full page shim: the locator builder followed by the capture
// listeners. Installing it twice in one document is a no-op.
var Script = locator.Script + "\n" + shimSource

// SetRecordingExpr is the expression that toggles the shim listeners.
func SetRecordingExpr(on bool) string {
	if on {
		return "window.__flowcraft ? window.__flowcraft.setRecording(true) : false"
	}
	return "window.__flowcraft ? window.__flowcraft.setRecording(false) : false"
}
