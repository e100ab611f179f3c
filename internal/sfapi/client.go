// Package sfapi is a small REST client for the record, describe and user
// endpoints the router needs.
package sfapi

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
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4096

	debugModeField = "UserPreferencesUserDebugModePref"
)

// APIError is a non-2xx reply from the remote API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("sfapi: status=%d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("sfapi: status=%d: %s", e.Status, e.Message)
}

// UpdateResult is returned by UpdateRecord.
type UpdateResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
}

// Client talks to one org with one credential. It is cheap to build and is
// not meant to be shared across credentials.
type Client struct {
	instanceURL string
	token       string
	apiVersion  string
	http        *http.Client
}

// New builds a client. A nil httpClient uses a client with a 30s timeout.
func New(instanceURL, token, apiVersion string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if !strings.HasPrefix(apiVersion, "v") {
		apiVersion = "v" + apiVersion
	}
	return &Client{
		instanceURL: strings.TrimRight(instanceURL, "/"),
		token:       token,
		apiVersion:  apiVersion,
		http:        httpClient,
	}
}

func (c *Client) dataPath(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.instanceURL + "/services/data/" + c.apiVersion + "/" + strings.Join(escaped, "/")
}

// GetRecord fetches one record.
func (c *Client) GetRecord(ctx context.Context, sobject, id string) (json.RawMessage, error) {
	if sobject == "" || id == "" {
		return nil, fmt.Errorf("sfapi: get record: sobject and id are required")
	}
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, c.dataPath("sobjects", sobject, id), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateRecord patches the record identified by record["Id"]. The Id and
// attributes keys are not sent as fields.
func (c *Client) UpdateRecord(ctx context.Context, sobject string, record map[string]any) (UpdateResult, error) {
	id, _ := record["Id"].(string)
	if sobject == "" || id == "" {
		return UpdateResult{}, fmt.Errorf("sfapi: update record: sobject and recordData.Id are required")
	}
	fields := make(map[string]any, len(record))
	for k, v := range record {
		if k == "Id" || k == "attributes" {
			continue
		}
		fields[k] = v
	}
	if err := c.do(ctx, http.MethodPatch, c.dataPath("sobjects", sobject, id), fields, nil); err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{ID: id, Success: true}, nil
}

// Describe returns the schema description of an sobject.
func (c *Client) Describe(ctx context.Context, sobject string) (json.RawMessage, error) {
	if sobject == "" {
		return nil, fmt.Errorf("sfapi: describe: sobject is required")
	}
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, c.dataPath("sobjects", sobject, "describe"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CurrentUserID returns the id of the user owning the credential.
func (c *Client) CurrentUserID(ctx context.Context) (string, error) {
	var me struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodGet, c.dataPath("chatter", "users", "me"), nil, &me); err != nil {
		return "", err
	}
	if me.ID == "" {
		return "", fmt.Errorf("sfapi: current user: empty id")
	}
	return me.ID, nil
}

// GetDebugMode reports the user's Lightning debug mode preference.
func (c *Client) GetDebugMode(ctx context.Context) (bool, error) {
	userID, err := c.CurrentUserID(ctx)
	if err != nil {
		return false, err
	}
	var user map[string]any
	endpoint := c.dataPath("sobjects", "User", userID) + "?fields=" + debugModeField
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &user); err != nil {
		return false, err
	}
	enabled, _ := user[debugModeField].(bool)
	return enabled, nil
}

// SetDebugMode writes the user's Lightning debug mode preference.
func (c *Client) SetDebugMode(ctx context.Context, enabled bool) error {
	userID, err := c.CurrentUserID(ctx)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPatch, c.dataPath("sobjects", "User", userID), map[string]any{debugModeField: enabled}, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("sfapi: encode body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("sfapi: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sfapi: %s %s: %w", method, req.URL.Path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return parseAPIError(resp.StatusCode, raw)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("sfapi: decode response: %w", err)
	}
	return nil
}

// parseAPIError reads the remote's [{"message","errorCode"}] error list.
func parseAPIError(status int, raw []byte) error {
	var list []struct {
		Message   string `json:"message"`
		ErrorCode string `json:"errorCode"`
	}
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		msgs := make([]string, 0, len(list))
		for _, e := range list {
			msgs = append(msgs, e.Message)
		}
		return &APIError{Status: status, Code: list[0].ErrorCode, Message: strings.Join(msgs, "; ")}
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{Status: status, Message: msg}
}
