// Package hubclient is the Hub Client (HC, §4.3): typed wrappers over the
// Hub RPC surface used by the engine. The wire-level transport is a
// deliberately out-of-scope external collaborator (§1); HC depends only on
// the narrow Transport interface below, so any generated SOAP stub can be
// substituted for the default soaptransport.Client.
package hubclient

import "context"

// Transport is the minimal capability the Hub Client needs from the
// underlying RPC stub (§4.3): log in, connect to a project, and invoke a
// named operation.
type Transport interface {
	// Login authenticates against the Hub and returns an opaque session
	// token. Implementations own whatever wire protocol that requires.
	Login(ctx context.Context, user, pass string) (sessionToken string, err error)

	// ConnectProject scopes the session to a single Hub project, as the
	// Hub's stateful session model requires (§5 Shared resources).
	ConnectProject(ctx context.Context, sessionToken string, projectID int) error

	// Call invokes a named Hub RPC operation, marshaling args and
	// unmarshaling the result into out.
	Call(ctx context.Context, sessionToken, operation string, args, out interface{}) error
}

// SessionExpiredError is returned by a Transport when the session token is
// no longer valid, so the Hub Client knows to re-authenticate rather than
// treat the call as a hard failure (§4.3 "Sessions may expire").
type SessionExpiredError struct {
	Operation string
}

func (e *SessionExpiredError) Error() string {
	return "hub session expired during " + e.Operation
}
