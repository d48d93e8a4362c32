// Package errs defines the sentinel error taxonomy used across the engine:
// wrap with fmt.Errorf("...: %w", ErrX) at the call site and match with
// errors.Is.
package errs

import "errors"

var (
	// ErrAuthFailure means the Hub rejected the engine's credentials. The
	// run ends with Error.
	ErrAuthFailure = errors.New("hub authentication failed")

	// ErrConnectivityFailure means the Tracker permissions probe returned
	// an empty result or the network call failed. The run ends with Error.
	ErrConnectivityFailure = errors.New("tracker connectivity probe failed")

	// ErrProjectConnectFailure means the engine could not connect to a
	// specific Hub project. That project pair is skipped; other pairs
	// continue.
	ErrProjectConnectFailure = errors.New("hub project connect failed")

	// ErrMappingMissing means a required enum/user/component/release
	// mapping could not be resolved. Handling depends on field criticality
	// per §7.
	ErrMappingMissing = errors.New("mapping not found")

	// ErrValidationFault mirrors the Hub's typed ValidationFault: the
	// artifact is skipped, the run continues.
	ErrValidationFault = errors.New("artifact failed validation")

	// ErrAttachmentTransferFailure means an attachment could not be
	// uploaded or downloaded. The parent artifact remains created.
	ErrAttachmentTransferFailure = errors.New("attachment transfer failed")

	// ErrLinkCreationFailure means an issue-link or web-link could not be
	// created. Warn and continue.
	ErrLinkCreationFailure = errors.New("link creation failed")

	// ErrUnknownFieldShape means a Tracker custom-field's JSON value did
	// not match any recognized shape during inbound reconstruction. The
	// value is left absent.
	ErrUnknownFieldShape = errors.New("unrecognized custom field value shape")
)

// ValidationFault mirrors the Hub's {Summary, Messages[{FieldName,
// Message}]} error surface (§6.3).
type ValidationFault struct {
	Summary  string
	Messages []FieldMessage
}

// FieldMessage is one (FieldName, Message) pair inside a ValidationFault.
type FieldMessage struct {
	FieldName string
	Message   string
}

func (v *ValidationFault) Error() string {
	return v.Summary
}

func (v *ValidationFault) Unwrap() error {
	return ErrValidationFault
}

// MissingRequired is returned by the dynamic-field validator when a
// non-custom field the create-metadata marks required is absent from the
// outbound payload (§4.4 step 2).
type MissingRequired struct {
	FieldName  string
	ProjectKey string
	IssueTypeID string
}

func (m *MissingRequired) Error() string {
	return "missing required field " + m.FieldName + " for " + m.ProjectKey + "/" + m.IssueTypeID
}

func (m *MissingRequired) Unwrap() error {
	return ErrValidationFault
}
