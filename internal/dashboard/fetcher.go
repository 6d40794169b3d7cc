// Package dashboard is the client-side data synchronization layer for the
// dashboard: authenticated fetches, session state, domain list stores and
// the watchlist save toggle.
package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// UnauthorizedMessage is the exact error text for any 401 response.
	UnauthorizedMessage = "Unauthorized"
	CodeUnknown         = "UNKNOWN"

	genericErrorMessage = "Something went wrong. Please try again."
)

// Envelope is the normalized result of every fetch.
type Envelope struct {
	Data   json.RawMessage
	Error  string
	Code   string
	Status int
}

func (e Envelope) OK() bool {
	return e.Error == ""
}

// Unauthorized reports whether the request failed for lack of a session.
func (e Envelope) Unauthorized() bool {
	return e.Error == UnauthorizedMessage
}

// Decode unmarshals the envelope data into dst.
func (e Envelope) Decode(dst any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("empty response data")
	}
	return json.Unmarshal(e.Data, dst)
}

// CredentialSource yields the access token for the current session, or ""
// when there is none.
type CredentialSource interface {
	AccessToken() string
}

type RequestOptions struct {
	Method string
	Body   any
	Query  url.Values
}

// Doer issues an authenticated request and returns the normalized envelope.
type Doer interface {
	Do(ctx context.Context, path string, opts RequestOptions) Envelope
}

type Fetcher struct {
	baseURL string
	client  *http.Client
	creds   CredentialSource
	logger  zerolog.Logger
}

type FetcherOption func(*Fetcher)

func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = client }
}

func WithFetcherLogger(logger zerolog.Logger) FetcherOption {
	return func(f *Fetcher) { f.logger = logger }
}

func NewFetcher(baseURL string, creds CredentialSource, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
		creds:   creds,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Do never returns a Go error: transport and decode failures are folded into
// the envelope with Code UNKNOWN.
func (f *Fetcher) Do(ctx context.Context, path string, opts RequestOptions) Envelope {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	target := f.baseURL + path
	if len(opts.Query) > 0 {
		target += "?" + opts.Query.Encode()
	}

	var body io.Reader
	if opts.Body != nil {
		raw, err := json.Marshal(opts.Body)
		if err != nil {
			return f.unknown(path, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return f.unknown(path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if f.creds != nil {
		if token := f.creds.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return f.unknown(path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Envelope{Error: UnauthorizedMessage, Code: "UNAUTHORIZED", Status: http.StatusUnauthorized}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return f.unknown(path, err)
	}
	env, err := parseEnvelope(raw, resp.StatusCode)
	if err != nil {
		return f.unknown(path, err)
	}
	return env
}

func (f *Fetcher) unknown(path string, err error) Envelope {
	f.logger.Warn().Err(err).Str("path", path).Msg("fetch failed")
	return Envelope{Error: genericErrorMessage, Code: CodeUnknown}
}

// serverEnvelope matches the API's {data, error, status} wrapper.
type serverEnvelope struct {
	Data    json.RawMessage `json:"data"`
	Error   *string         `json:"error"`
	Status  int             `json:"status"`
	Code    string          `json:"code"`
	Details json.RawMessage `json:"details"`
}

// parseEnvelope unwraps server envelopes and passes any other JSON body
// through whole as Data.
func parseEnvelope(raw []byte, status int) (Envelope, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		if status >= http.StatusBadRequest {
			return Envelope{Error: http.StatusText(status), Code: CodeUnknown, Status: status}, nil
		}
		return Envelope{Data: json.RawMessage("null"), Status: status}, nil
	}
	if !json.Valid(trimmed) {
		return Envelope{}, fmt.Errorf("response is not JSON")
	}

	if trimmed[0] == '{' {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return Envelope{}, err
		}
		_, hasError := fields["error"]
		_, hasStatus := fields["status"]
		if hasError || hasStatus {
			var wrapped serverEnvelope
			if err := json.Unmarshal(trimmed, &wrapped); err != nil {
				return Envelope{}, err
			}
			env := Envelope{Data: wrapped.Data, Code: wrapped.Code, Status: wrapped.Status}
			if env.Status == 0 {
				env.Status = status
			}
			if wrapped.Error != nil && *wrapped.Error != "" {
				env.Error = *wrapped.Error
				if env.Code == "" {
					env.Code = CodeUnknown
				}
			}
			if env.Data == nil {
				env.Data = json.RawMessage("null")
			}
			return env, nil
		}
	}

	env := Envelope{Data: json.RawMessage(trimmed), Status: status}
	if status >= http.StatusBadRequest {
		env.Error = http.StatusText(status)
		env.Code = CodeUnknown
	}
	return env, nil
}
