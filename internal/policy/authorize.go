package policy

import (
	"errors"
	"strings"

	"github.com/ent0n29/xiaobei/internal/agenterr"
	"github.com/ent0n29/xiaobei/internal/session"
)

// SessionLookup is the read side of the session store.
type SessionLookup interface {
	Get(sessionID string) (*session.Session, error)
}

type Decision struct {
	Allowed bool
	Session *session.Session
	Err     *agenterr.Error
}

// Authorize decides whether sessionID may invoke capability. An unknown
// session is checked before the grant, so a bad session id never surfaces as a
// validation failure.
func Authorize(store SessionLookup, sessionID, capability string) Decision {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return reject(agenterr.Authentication(agenterr.KindSessionNotFound, "Invalid or missing session_id"))
	}

	s, err := store.Get(sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return reject(agenterr.Authentication(agenterr.KindSessionNotFound, "Invalid or missing session_id"))
		}
		return reject(agenterr.Internal(agenterr.KindInternal, "session lookup failed: %v", err))
	}

	if capability == "" || !s.Granted(capability) {
		e := agenterr.Validation(agenterr.KindCapabilityNotGranted, "capability %q is not granted to this session", capability)
		return Decision{Session: s, Err: e.WithAvailable(s.Capabilities)}
	}

	return Decision{Allowed: true, Session: s}
}

func reject(e *agenterr.Error) Decision {
	return Decision{Err: e}
}
