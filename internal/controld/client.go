package controld

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"controld_bridge/core-go/internal/metrics"
)

// DefaultBaseURL is the public Control D API.
const DefaultBaseURL = "https://api.controld.com"

// disableWindow is how long filtering stays off after a disable request.
const disableWindow = 24 * time.Hour

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 4 << 20

type Options struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
	Now        func() time.Time
}

// Client talks to the Control D REST API. Every method absorbs failures: it
// logs a classified error and returns false or an empty slice.
type Client struct {
	log        zerolog.Logger
	baseURL    string
	token      string
	httpClient *http.Client
	now        func() time.Time
	metrics    *metrics.Metrics
}

func New(log zerolog.Logger, opts Options, m *metrics.Metrics) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		log:        log.With().Str("component", "controld").Logger(),
		baseURL:    baseURL,
		token:      opts.Token,
		httpClient: httpClient,
		now:        now,
		metrics:    m,
	}
}

type envelope struct {
	Success *bool           `json:"success"`
	Body    json.RawMessage `json:"body"`
}

func (e envelope) ok() bool {
	return e.Success != nil && *e.Success
}

// list returns the raw JSON array stored under key in the body.
func (e envelope) list(key string) (json.RawMessage, error) {
	if !e.ok() {
		return nil, fmt.Errorf("%w: success flag missing or false", ErrMalformedResponse)
	}
	var body map[string]json.RawMessage
	if len(e.Body) == 0 || json.Unmarshal(e.Body, &body) != nil || body == nil {
		return nil, fmt.Errorf("%w: missing body", ErrMalformedResponse)
	}
	raw := bytes.TrimSpace(body[key])
	if len(raw) == 0 || raw[0] != '[' {
		return nil, fmt.Errorf("%w: body.%s is not a list", ErrMalformedResponse, key)
	}
	return raw, nil
}

type disableRequest struct {
	DisableTTL int64 `json:"disable_ttl"`
}

type assignRequest struct {
	Profile struct {
		PK string `json:"PK"`
	} `json:"profile"`
}

// ValidateToken reports whether the configured token can read profiles.
func (c *Client) ValidateToken(ctx context.Context) bool {
	const op = "validate_token"
	var env envelope
	status, err := c.do(ctx, op, http.MethodGet, "/profiles", nil, &env)
	if err != nil {
		c.logFailure(op, err)
		return false
	}
	if status != http.StatusOK || !env.ok() {
		c.log.Warn().Str("operation", op).Int("status", status).Msg("unexpected status or response when validating API token")
		return false
	}
	return true
}

// ListProfiles fetches all profiles and derives FilteringEnabled for each.
func (c *Client) ListProfiles(ctx context.Context) []Profile {
	const op = "list_profiles"
	var env envelope
	if _, err := c.do(ctx, op, http.MethodGet, "/profiles", nil, &env); err != nil {
		c.logFailure(op, err)
		return []Profile{}
	}

	raw, err := env.list("profiles")
	if err != nil {
		c.logFailure(op, &Error{Class: ClassUnexpected, Op: op, Err: err})
		return []Profile{}
	}
	profiles, err := decodeEach[Profile](c.log, op, raw)
	if err != nil {
		c.logFailure(op, &Error{Class: ClassUnexpected, Op: op, Err: err})
		return []Profile{}
	}
	if len(profiles) == 0 {
		c.log.Warn().Msg("no profiles found in the Control D account")
		return []Profile{}
	}

	now := c.now()
	for i := range profiles {
		profiles[i].FilteringEnabled = FilteringEnabled(profiles[i].DisableTTL, now)
	}
	return profiles
}

// SetFilteringEnabled turns filtering on (disable_ttl=0) or suspends it for
// 24 hours from now.
func (c *Client) SetFilteringEnabled(ctx context.Context, profileID string, enabled bool) bool {
	const op = "set_filtering"
	req := disableRequest{}
	if !enabled {
		req.DisableTTL = c.now().Unix() + int64(disableWindow/time.Second)
	}
	c.log.Debug().Str("profile_id", profileID).Bool("enabled", enabled).Int64("disable_ttl", req.DisableTTL).Msg("updating profile filtering")

	var env envelope
	status, err := c.do(ctx, op, http.MethodPut, "/profiles/"+url.PathEscape(profileID), req, &env)
	if err != nil {
		c.logFailure(op, err)
		return false
	}
	if status != http.StatusOK || !env.ok() {
		c.log.Warn().Str("profile_id", profileID).Int("status", status).Msg("unexpected status or response when updating profile filtering")
		return false
	}
	c.log.Debug().Str("profile_id", profileID).Bool("enabled", enabled).Msg("profile filtering updated")
	return true
}

// ListDevices fetches all devices on the account.
func (c *Client) ListDevices(ctx context.Context) []Device {
	const op = "list_devices"
	var env envelope
	if _, err := c.do(ctx, op, http.MethodGet, "/devices", nil, &env); err != nil {
		c.logFailure(op, err)
		return []Device{}
	}

	raw, err := env.list("devices")
	if err != nil {
		c.logFailure(op, &Error{Class: ClassUnexpected, Op: op, Err: err})
		return []Device{}
	}
	devices, err := decodeEach[Device](c.log, op, raw)
	if err != nil {
		c.logFailure(op, &Error{Class: ClassUnexpected, Op: op, Err: err})
		return []Device{}
	}
	return devices
}

// AssignDeviceProfile moves a device onto another profile.
func (c *Client) AssignDeviceProfile(ctx context.Context, deviceID, profileID string) bool {
	const op = "assign_device_profile"
	var req assignRequest
	req.Profile.PK = profileID
	c.log.Debug().Str("device_id", deviceID).Str("profile_id", profileID).Msg("assigning device profile")

	var env envelope
	status, err := c.do(ctx, op, http.MethodPut, "/devices/"+url.PathEscape(deviceID), req, &env)
	if err != nil {
		c.logFailure(op, err)
		return false
	}
	if status != http.StatusOK || !env.ok() {
		c.log.Warn().Str("device_id", deviceID).Int("status", status).Msg("unexpected status or response when assigning device profile")
		return false
	}
	return true
}

// decodeEach decodes every element of a JSON array on its own. Elements
// that fail to decode are skipped with a warning; the call only fails when
// the array itself is malformed or no element survives.
func decodeEach[T any](log zerolog.Logger, op string, raw json.RawMessage) ([]T, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	out := make([]T, 0, len(items))
	var lastErr error
	for i, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			log.Warn().Err(err).Str("operation", op).Int("index", i).Msg("skipping undecodable item in Control D response")
			lastErr = err
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 && lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, lastErr)
	}
	return out, nil
}

// do performs one authenticated request and decodes a 2xx JSON body into
// out. Failures come back as *Error.
func (c *Client) do(ctx context.Context, op, method, path string, body any, out any) (int, error) {
	start := time.Now()
	status, err := c.roundTrip(ctx, op, method, path, body, out)
	class := "ok"
	if err != nil {
		class = string(ClassOf(err))
	}
	c.metrics.ObserveAPIRequest(op, class, time.Since(start))
	return status, err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, &Error{Class: ClassUnexpected, Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, &Error{Class: ClassUnexpected, Op: op, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &Error{Class: ClassNetwork, Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, &Error{Class: ClassNetwork, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &Error{
			Class:  classifyStatus(path, resp.StatusCode, respBody),
			Op:     op,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(respBody)),
		}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, &Error{Class: ClassUnexpected, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("%w: %w", ErrMalformedResponse, err)}
		}
	}
	return resp.StatusCode, nil
}

// logFailure writes one log event per classified failure.
func (c *Client) logFailure(op string, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		c.log.Error().Err(err).Str("operation", op).Str("class", string(ClassUnexpected)).Msg("Control D client error")
		return
	}

	ev := c.log.Error()
	if errors.Is(err, ErrMalformedResponse) {
		ev = c.log.Warn()
	}
	ev = ev.Str("operation", op).Str("class", string(apiErr.Class))

	switch apiErr.Class {
	case ClassPermission:
		ev.Int("status", apiErr.Status).
			Str("remediation", "create a new API token with the profiles:read and profiles:write permissions at https://controld.com/dashboard (Settings > API)").
			Msg("Control D permission error: token does not have access to the profiles endpoint")
	case ClassAuthentication:
		ev.Int("status", apiErr.Status).
			Str("remediation", "verify the API token and its permissions at https://controld.com/dashboard").
			Msg("Control D authentication error: token is invalid or lacks required permissions")
	case ClassAPI:
		ev.Int("status", apiErr.Status).Str("body", apiErr.Body).Msg("Control D API error")
	case ClassNetwork:
		ev.Err(apiErr.Err).Msg("Control D network error")
	default:
		ev.Err(apiErr.Err).Msg("Control D unexpected error")
	}
}
