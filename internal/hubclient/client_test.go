package hubclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jlmwin/spira5-jira-datasync-master/internal/errs"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/model"
)

type fakeTransport struct {
	loginCalls int
	loginErr   error
	token      string

	connectErr error

	callResponses map[string]func(out interface{}) error
	expireOnce    map[string]bool
	lastArgs      map[string]string
}

func (f *fakeTransport) Login(ctx context.Context, user, pass string) (string, error) {
	f.loginCalls++
	if f.loginErr != nil {
		return "", f.loginErr
	}
	return f.token, nil
}

func (f *fakeTransport) ConnectProject(ctx context.Context, sessionToken string, projectID int) error {
	return f.connectErr
}

func (f *fakeTransport) Call(ctx context.Context, sessionToken, operation string, args, out interface{}) error {
	if f.lastArgs == nil {
		f.lastArgs = map[string]string{}
	}
	if s, ok := args.(string); ok {
		f.lastArgs[operation] = s
	}
	if f.expireOnce[operation] {
		delete(f.expireOnce, operation)
		return &SessionExpiredError{Operation: operation}
	}
	if fn, ok := f.callResponses[operation]; ok {
		return fn(out)
	}
	return nil
}

func TestClient_Authenticate_WrapsAuthFailure(t *testing.T) {
	transport := &fakeTransport{loginErr: errors.New("bad credentials")}
	client := New(transport, "u", "p")

	err := client.Authenticate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrAuthFailure)
}

func TestClient_ConnectProject_WrapsProjectConnectFailure(t *testing.T) {
	transport := &fakeTransport{token: "tok", connectErr: errors.New("no such project")}
	client := New(transport, "u", "p")

	err := client.ConnectProject(context.Background(), 7)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrProjectConnectFailure)
}

func TestClient_ReauthenticatesOnSessionExpiry(t *testing.T) {
	transport := &fakeTransport{
		token:         "tok",
		expireOnce:    map[string]bool{"GetUserById": true},
		callResponses: map[string]func(out interface{}) error{},
	}
	client := New(transport, "u", "p")
	require.NoError(t, client.Authenticate(context.Background()))

	_, _, err := client.FindUserByID(5)
	require.NoError(t, err)
	assert.Equal(t, 2, transport.loginCalls, "should have re-authenticated once after session expiry")
}

func TestResolveArtifactURL_Placeholder(t *testing.T) {
	url := ResolveArtifactURL("https://hub.example.com/~", model.ArtifactIncident, 42)
	assert.Equal(t, "https://hub.example.com/Incident.aspx?id=42", url)
}

func TestClient_CreateIncident_SerializesComputedPullFields(t *testing.T) {
	transport := &fakeTransport{
		token: "tok",
		callResponses: map[string]func(out interface{}) error{
			"CreateIncident": func(out interface{}) error { return nil },
		},
	}
	client := New(transport, "u", "p")
	require.NoError(t, client.Authenticate(context.Background()))

	due := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	closed := time.Date(2026, 3, 5, 9, 30, 0, 0, time.UTC)
	artifact := model.HubArtifact{
		Kind:                 model.ArtifactIncident,
		ProjectID:            7,
		Name:                 "something broke",
		DetectedReleaseID:    101,
		ResolvedReleaseID:    102,
		StartOrDueDate:       &due,
		ClosedOrResolvedDate: &closed,
		ComponentIDs:         []int{3, 4},
		CustomProperties: map[int]model.TypedValue{
			1: model.Text("affects checkout"),
			2: model.List("55"),
		},
	}

	_, err := client.CreateIncident(context.Background(), artifact)
	require.NoError(t, err)

	sent := transport.lastArgs["CreateIncident"]
	assert.Contains(t, sent, "<DetectedReleaseId>101</DetectedReleaseId>")
	assert.Contains(t, sent, "<ResolvedReleaseId>102</ResolvedReleaseId>")
	assert.Contains(t, sent, "<StartDate>2026-03-01T12:00:00Z</StartDate>")
	assert.Contains(t, sent, "<ClosedDate>2026-03-05T09:30:00Z</ClosedDate>")
	assert.Contains(t, sent, "<ComponentIds><Id>3</Id><Id>4</Id></ComponentIds>")
	assert.Contains(t, sent, "<Slot>1</Slot><ValueType>text</ValueType><Text>affects checkout</Text>")
	assert.Contains(t, sent, "<Slot>2</Slot><ValueType>list</ValueType><Text>55</Text>")
}

func TestClient_AddComment_SendsArtifactAndBody(t *testing.T) {
	transport := &fakeTransport{
		token: "tok",
		callResponses: map[string]func(out interface{}) error{
			"AddComment": func(out interface{}) error { return nil },
		},
	}
	client := New(transport, "u", "p")
	require.NoError(t, client.Authenticate(context.Background()))

	comment := model.Comment{AuthorLogin: "jdoe", Body: "looks fixed now"}
	require.NoError(t, client.AddComment(context.Background(), model.ArtifactIncident, 42, comment))

	sent := transport.lastArgs["AddComment"]
	assert.Contains(t, sent, "<ArtifactType>incident</ArtifactType>")
	assert.Contains(t, sent, "<ArtifactId>42</ArtifactId>")
	assert.Contains(t, sent, "<AuthorLogin>jdoe</AuthorLogin>")
	assert.Contains(t, sent, "<Body>looks fixed now</Body>")
}
