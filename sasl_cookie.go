package dbusclient

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
)

// CookieSHA1Mechanism implements DBUS_COOKIE_SHA1 (§4.3, §6.3): the
// server challenges with a context, cookie id and server nonce; the
// client looks up the matching cookie in its keyring, combines it with
// a fresh client nonce, and replies with the SHA1 of the three joined
// by colons.
type CookieSHA1Mechanism struct {
	username string
	// randSource supplies the 16 random bytes used as the client nonce.
	// Defaults to crypto/rand.Reader; overridable for deterministic
	// tests.
	randSource io.Reader
}

// NewCookieSHA1Mechanism builds a CookieSHA1Mechanism for the current
// OS user.
func NewCookieSHA1Mechanism() *CookieSHA1Mechanism {
	name := ""
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	return &CookieSHA1Mechanism{username: name, randSource: rand.Reader}
}

func (m *CookieSHA1Mechanism) Name() string { return "DBUS_COOKIE_SHA1" }

func (m *CookieSHA1Mechanism) InitialResponse() (string, bool) {
	return hex.EncodeToString([]byte(m.username)), true
}

// Step answers the server's "<context> <cookie-id> <server-challenge>"
// challenge (hex-encoded) per §6.3.
func (m *CookieSHA1Mechanism) Step(challengeHex string) (string, error) {
	raw, err := hex.DecodeString(challengeHex)
	if err != nil {
		return "", fmt.Errorf("decoding cookie challenge: %w", err)
	}
	parts := strings.SplitN(string(raw), " ", 3)
	if len(parts) != 3 {
		return "", fmt.Errorf("malformed cookie challenge %q", raw)
	}
	context, cookieID, serverChallenge := parts[0], parts[1], parts[2]
	if strings.ContainsAny(context, "/") || strings.Contains(context, "..") {
		return "", fmt.Errorf("unsafe cookie context %q", context)
	}

	cookie, err := lookupCookie(context, cookieID)
	if err != nil {
		return "", newErr(CodeCookieUnavailable, "sasl cookie lookup", err)
	}

	nonce := make([]byte, 16)
	if m.randSource == nil {
		m.randSource = rand.Reader
	}
	if _, err := io.ReadFull(m.randSource, nonce); err != nil {
		return "", fmt.Errorf("generating client nonce: %w", err)
	}
	clientChallenge := hex.EncodeToString(nonce)

	h := sha1.New()
	fmt.Fprintf(h, "%s:%s:%s", serverChallenge, clientChallenge, cookie)
	digest := hex.EncodeToString(h.Sum(nil))

	reply := clientChallenge + " " + digest
	return hex.EncodeToString([]byte(reply)), nil
}

func (m *CookieSHA1Mechanism) IsComplete() bool { return true }

// lookupCookie reads $HOME/.dbus-keyrings/<context> and returns the
// cookie value for id (§6.3): outside Windows the keyring file must
// grant no group or other permissions (e.g. mode 0600), and the context
// must already have been validated as a plain filename.
func lookupCookie(context, id string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	path := filepath.Join(home, ".dbus-keyrings", context)

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("statting keyring %s: %w", path, err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0077 != 0 {
		return "", fmt.Errorf("keyring %s has mode %04o, want no group/other access", path, info.Mode().Perm())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading keyring %s: %w", path, err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		if fields[0] == id {
			return fields[2], nil
		}
	}
	return "", fmt.Errorf("cookie id %s not found in %s", id, path)
}
