package executor

import "context"

// ContentChannel evaluates JavaScript inside a tab's page and decodes the
// result into out. It is the resilient path.
type ContentChannel interface {
	Eval(ctx context.Context, tabID, expr string, out interface{}) error
}

// ProtocolChannel attaches a debugging session to a tab for OS-like input
// synthesis.
type ProtocolChannel interface {
	Attach(ctx context.Context, tabID string) (ProtocolSession, error)
}

// ProtocolSession is one attachment. Detach must be called exactly once.
type ProtocolSession interface {
	TouchEmulated(ctx context.Context) (bool, error)
	MouseClick(ctx context.Context, x, y float64) error
	Tap(ctx context.Context, x, y float64) error
	Key(ctx context.Context, def KeyDefinition, mods Modifiers) error
	InsertText(ctx context.Context, text string) error
	Detach() error
}

// Navigator opens and loads tabs. Both calls return once the load event has
// fired.
type Navigator interface {
	OpenTab(ctx context.Context, url string) (string, error)
	Navigate(ctx context.Context, tabID, url string) error
}
