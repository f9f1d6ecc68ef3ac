package httpcore

import (
	"github.com/google/uuid"
)

// DebugConfig selectively enables verbose logging for specific subsystems so a
// caller can get request/cache/circuit insight without drowning in noise from
// subsystems they don't care about. Grounded on the teacher's Client.debug field
// and its per-call-site `c.debug.Enabled && c.debug.LogXxx` gating pattern
// (client.go), which referenced this type without it existing anywhere in the
// retrieved pack.
type DebugConfig struct {
	Enabled      bool
	RequestIDGen func() string
	LogRequests  bool
	LogCache     bool
	LogRateLimit bool
	LogCircuit   bool
	LogRetries   bool
}

// DefaultDebugConfig returns a DebugConfig with every log category enabled and
// a random-hex request ID generator, suitable as the starting point for
// WithDebug().
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:      true,
		RequestIDGen: generateRequestID,
		LogRequests:  true,
		LogCache:     true,
		LogRateLimit: true,
		LogCircuit:   true,
		LogRetries:   true,
	}
}

func generateRequestID() string {
	return uuid.NewString()
}
