// Package billing wraps the billing backend's single-endpoint RPC API.
//
// The backend multiplexes every operation through one URL: a form-encoded
// POST carrying a "call" parameter and a shared api_id/api_key pair. That
// protocol is the backend's, not ours; the Client interface hides it so the
// rest of the pipeline could be pointed at a REST-style backend later.
package billing

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hexacloud/storefront/internal/tracing"
)

// DefaultTimeout bounds every outbound call to the billing backend.
const DefaultTimeout = 12 * time.Second

// Response is the uniform envelope for a billing backend call.
type Response struct {
	Success bool `json:"success"`
	// Data holds the remaining top-level fields of the response body.
	Data map[string]json.RawMessage `json:"-"`
}

// String returns the raw field named key decoded as a string.
// JSON numbers are returned in their literal form. Missing fields yield "".
func (r *Response) String(key string) string {
	raw, ok := r.Data[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	// Numeric IDs arrive unquoted from some backend versions.
	return strings.Trim(string(raw), `"`)
}

// Client performs authenticated calls against the billing backend.
type Client interface {
	// Call invokes the named remote operation with the given flat parameters.
	// Errors are always *TransientError or *RemoteRejection.
	Call(ctx context.Context, call string, params map[string]string) (*Response, error)
}

// HTTPClient implements Client over the backend's form-encoded POST protocol.
type HTTPClient struct {
	endpoint string
	apiID    string
	apiKey   string
	client   *http.Client
}

// NewHTTPClient creates a billing client for the given endpoint and
// shared-secret pair. Credentials are fixed at construction.
func NewHTTPClient(endpoint, apiID, apiKey string) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		apiID:    apiID,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: DefaultTimeout},
	}
}

// Call performs one remote operation. It never retries and never caches;
// retry policy belongs to the caller.
func (c *HTTPClient) Call(ctx context.Context, call string, params map[string]string) (_ *Response, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "billing."+call)
	tracing.SetAttributes(ctx, attribute.String("billing.call", call))
	defer func() { endSpan(err) }()

	form := url.Values{}
	form.Set("call", call)
	form.Set("api_id", c.apiID)
	form.Set("api_key", c.apiKey)
	for k, v := range params {
		form.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &TransientError{Call: call, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		// Timeouts, DNS failures and connection resets all land here.
		return nil, &TransientError{Call: call, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Call: call, Err: err}
	}

	return parseResponse(call, body)
}

// parseResponse decodes a backend response body. The backend occasionally
// returns HTML error pages instead of JSON; those classify as transient.
func parseResponse(call string, body []byte) (*Response, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &TransientError{Call: call, Err: errMalformedBody(body)}
	}

	resp := &Response{Data: raw}
	if successRaw, ok := raw["success"]; ok {
		if err := json.Unmarshal(successRaw, &resp.Success); err != nil {
			return nil, &TransientError{Call: call, Err: errMalformedBody(body)}
		}
	}
	delete(raw, "success")

	if !resp.Success {
		msg := resp.String("error")
		if msg == "" {
			msg = resp.String("message")
		}
		if msg == "" {
			msg = "operation refused"
		}
		return resp, &RemoteRejection{Call: call, Message: msg}
	}
	return resp, nil
}

type malformedBodyError struct {
	snippet string
}

func errMalformedBody(body []byte) error {
	const maxSnippet = 80
	s := string(body)
	if len(s) > maxSnippet {
		s = s[:maxSnippet]
	}
	return &malformedBodyError{snippet: s}
}

func (e *malformedBodyError) Error() string {
	return "malformed response body: " + e.snippet
}
