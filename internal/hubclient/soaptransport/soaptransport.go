// Package soaptransport is the default hubclient.Transport implementation:
// a thin SOAP-envelope client against the Hub's
// /Services/v5_0/SoapService.svc endpoint, built with a plain
// http.Client and manual request construction. It exists so the Hub
// Client is exercisable end to end without a generated stub; production
// deployments may supply any other hubclient.Transport instead.
package soaptransport

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
)

// Client is a minimal SOAP transport over net/http.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client targeting baseURL (the Hub's base URL; the
// /Services/v5_0/SoapService.svc suffix is appended per call).
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

type envelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    body     `xml:"Body"`
}

type body struct {
	Content []byte `xml:",innerxml"`
}

// Login implements hubclient.Transport.
func (c *Client) Login(ctx context.Context, user, pass string) (string, error) {
	req := fmt.Sprintf(`<Login xmlns="http://Hub"><username>%s</username><password>%s</password></Login>`, xmlEscape(user), xmlEscape(pass))
	var resp struct {
		Token string `xml:"Token"`
	}
	if err := c.invoke(ctx, "Login", req, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// ConnectProject implements hubclient.Transport.
func (c *Client) ConnectProject(ctx context.Context, sessionToken string, projectID int) error {
	req := fmt.Sprintf(`<ConnectProject xmlns="http://Hub"><sessionToken>%s</sessionToken><projectId>%d</projectId></ConnectProject>`, xmlEscape(sessionToken), projectID)
	return c.invoke(ctx, "ConnectProject", req, nil)
}

// Call implements hubclient.Transport. args must already be an XML
// fragment (callers build it); out, if non-nil, receives the decoded
// response body.
func (c *Client) Call(ctx context.Context, sessionToken, operation string, args, out interface{}) error {
	var payload string
	switch v := args.(type) {
	case string:
		payload = v
	case nil:
		payload = ""
	default:
		encoded, err := xml.Marshal(v)
		if err != nil {
			return fmt.Errorf("soaptransport: marshal args for %s: %w", operation, err)
		}
		payload = string(encoded)
	}

	req := fmt.Sprintf(`<%s xmlns="http://Hub"><sessionToken>%s</sessionToken>%s</%s>`,
		operation, xmlEscape(sessionToken), payload, operation)

	return c.invoke(ctx, operation, req, out)
}

func (c *Client) invoke(ctx context.Context, operation, body string, out interface{}) error {
	envelopeXML := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>%s</soap:Body>
</soap:Envelope>`, body)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/Services/v5_0/SoapService.svc", bytes.NewBufferString(envelopeXML))
	if err != nil {
		return fmt.Errorf("soaptransport: build request for %s: %w", operation, err)
	}
	httpReq.Header.Set("Content-Type", "text/xml; charset=utf-8")
	httpReq.Header.Set("SOAPAction", "http://Hub/"+operation)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("soaptransport: request %s: %w", operation, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("soaptransport: read response for %s: %w", operation, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("soaptransport: %s unauthorized", operation)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("soaptransport: %s failed with status %d: %s", operation, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}

	var env envelope
	if err := xml.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("soaptransport: decode envelope for %s: %w", operation, err)
	}
	if err := xml.Unmarshal(env.Body.Content, out); err != nil {
		return fmt.Errorf("soaptransport: decode body for %s: %w", operation, err)
	}
	return nil
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
