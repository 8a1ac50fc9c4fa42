package seal

import "context"

// IssueGate decides whether a paid seal may be issued. It is the hook where
// payment verification plugs in; demo requests never consult it.
type IssueGate interface {
	AllowIssue(ctx context.Context, req Request) (bool, error)
}

// GateFunc adapts a function to IssueGate.
type GateFunc func(ctx context.Context, req Request) (bool, error)

// AllowIssue calls f.
func (f GateFunc) AllowIssue(ctx context.Context, req Request) (bool, error) {
	return f(ctx, req)
}

// AllowAll is the default gate. Payment settlement is not verified yet, so
// every request passes and payment_tx stays null.
var AllowAll IssueGate = GateFunc(func(context.Context, Request) (bool, error) {
	return true, nil
})
