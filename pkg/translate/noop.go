package translate

import "context"

// Noop returns text unchanged. Used in tests and airgapped deployments.
type Noop struct{}

func (Noop) Translate(_ context.Context, text string) (string, error) {
	return text, nil
}
