package dbusclient

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
)

// ExternalMechanism implements the EXTERNAL SASL mechanism (§4.3, §6.3):
// the client asserts its identity by sending its effective UID as the
// hex-encoded initial response and relies on the transport's
// SO_PEERCRED/SCM_CREDENTIALS ancillary data for the server to verify
// it. No challenge/response round trip is expected.
type ExternalMechanism struct {
	uid string
}

// NewExternalMechanism builds an ExternalMechanism for the process's
// effective UID.
func NewExternalMechanism() *ExternalMechanism {
	return &ExternalMechanism{uid: strconv.Itoa(os.Geteuid())}
}

func (m *ExternalMechanism) Name() string { return "EXTERNAL" }

func (m *ExternalMechanism) InitialResponse() (string, bool) {
	return hex.EncodeToString([]byte(m.uid)), true
}

func (m *ExternalMechanism) Step(string) (string, error) {
	return "", fmt.Errorf("EXTERNAL does not accept server challenges")
}

func (m *ExternalMechanism) IsComplete() bool { return true }
