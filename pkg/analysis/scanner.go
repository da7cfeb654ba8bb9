package analysis

import "context"

// Scanner computes a verdict for one package identity.
//
// Implementations always return a Result for analysis outcomes,
// including failed ones (Result.Err). The error return is reserved for
// context cancellation and invalid input; analysis failures never
// surface there, so one package's trouble cannot abort another's scan.
//
// Scan must be safe for concurrent use: callers run scans for different
// identities in parallel.
type Scanner interface {
	Scan(ctx context.Context, id Identity) (*Result, error)
}

// ScannerFunc adapts a function to the Scanner interface.
type ScannerFunc func(ctx context.Context, id Identity) (*Result, error)

// Scan calls f.
func (f ScannerFunc) Scan(ctx context.Context, id Identity) (*Result, error) {
	return f(ctx, id)
}
