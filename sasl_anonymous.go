package dbusclient

import (
	"encoding/hex"
	"fmt"
)

// AnonymousMechanism implements the ANONYMOUS SASL mechanism (§4.3): no
// credentials are asserted, Trace is an arbitrary human-readable string
// (typically the application name) logged by the server for diagnostics.
type AnonymousMechanism struct {
	Trace string
}

func (m AnonymousMechanism) Name() string { return "ANONYMOUS" }

func (m AnonymousMechanism) InitialResponse() (string, bool) {
	return hex.EncodeToString([]byte(m.Trace)), true
}

func (m AnonymousMechanism) Step(string) (string, error) {
	return "", fmt.Errorf("ANONYMOUS does not accept server challenges")
}

func (m AnonymousMechanism) IsComplete() bool { return true }
