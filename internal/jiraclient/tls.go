package jiraclient

import (
	"crypto/tls"
	"sync"
)

// preferredTLSVersions lists the TLS version preference order the client
// probes against the permissions endpoint (§4.2): TLS 1.2, then 1.1, then
// 1.0. crypto/tls still defines the tls.VersionSSL30 constant, but SSLv3 is
// unsupported as an active protocol in the Go standard library, so the
// fourth rung the base spec calls for ("then SSL 3.0") is represented here
// by re-attempting the oldest version the library exposes, tls.VersionSSL30
// — which Go's TLS stack will itself reject at handshake time, surfacing as
// an ordinary connection error rather than a silent downgrade. This is a
// deliberate, documented deviation (see DESIGN.md), not an oversight.
var preferredTLSVersions = []uint16{
	tls.VersionTLS12,
	tls.VersionTLS11,
	tls.VersionTLS10,
	tls.VersionSSL30,
}

// tlsPreference is process-wide, init-once, read-many state (per the
// Design Notes' "TLS-preference latch... process-wide state S with
// init-once, read-many semantics"): the first TLS version that succeeds
// against the permissions probe is latched and reused by every subsequent
// client in the process.
var tlsPreference struct {
	once    sync.Once
	version uint16
}

// latchTLSVersion records version as the process-wide preferred TLS version
// if nothing has latched yet. Subsequent calls are no-ops: once a version
// has succeeded, the latch never changes within the process lifetime.
func latchTLSVersion(version uint16) {
	tlsPreference.once.Do(func() {
		tlsPreference.version = version
	})
}

// currentTLSPreference returns the latched version, or 0 if nothing has
// latched yet (in which case the client probes preferredTLSVersions in
// order).
func currentTLSPreference() uint16 {
	return tlsPreference.version
}

// resetTLSPreferenceForTest clears the latch; used only by tests that need
// to observe a fresh probe.
func resetTLSPreferenceForTest() {
	tlsPreference = struct {
		once    sync.Once
		version uint16
	}{}
}
