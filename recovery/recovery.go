// Package recovery decides what happens when malformed input is found:
// fail the operation or keep going with a best-effort repair.
package recovery

import "context"

type Strategy interface {
	OnError(ctx context.Context, err error, location Location) Action
}

type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionFix
	ActionWarn
)

func (a Action) String() string {
	switch a {
	case ActionFail:
		return "fail"
	case ActionSkip:
		return "skip"
	case ActionFix:
		return "fix"
	case ActionWarn:
		return "warn"
	}
	return "unknown"
}

// Continue reports whether a caller should proceed past the error.
func (a Action) Continue() bool { return a != ActionFail }

// Decide asks s about err. A nil strategy fails.
func Decide(ctx context.Context, s Strategy, err error, loc Location) Action {
	if s == nil {
		return ActionFail
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return s.OnError(ctx, err, loc)
}
