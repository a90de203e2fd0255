// Package client talks to the CMDB REST backend.
//
// It covers the two resources the explorer needs:
//   - the graph queries (load with root, expand child, expand parent);
//   - the filter-profile CRUD resource.
//
// Endpoints are RFC 6570 URI templates so deployments with a different
// routing layout only need configuration.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yosida95/uritemplate/v3"
	"golang.org/x/time/rate"

	"github.com/sanonone/cigraph/pkg/cmdb"
	"github.com/sanonone/cigraph/pkg/metrics"
)

// APIError represents an error returned by the backend (status >= 400).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// Endpoints holds the URI templates of every backend operation. Graph
// templates receive id, type_ids and relation_ids; profile templates receive
// public_id.
type Endpoints struct {
	Root     string `yaml:"root"`
	Children string `yaml:"children"`
	Parents  string `yaml:"parents"`
	Profiles string `yaml:"profiles"`
	Profile  string `yaml:"profile"`
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		Root:     "/rest/graph/{id}/root{?type_ids*,relation_ids*}",
		Children: "/rest/graph/{id}/children{?type_ids*,relation_ids*}",
		Parents:  "/rest/graph/{id}/parents{?type_ids*,relation_ids*}",
		Profiles: "/rest/filter-profile/",
		Profile:  "/rest/filter-profile/{public_id}",
	}
}

// Options configures a Client.
type Options struct {
	BaseURL   string        `yaml:"base_url" validate:"required,url"`
	Token     string        `yaml:"token"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"` // requests per second; zero disables limiting
	Burst     int           `yaml:"burst" validate:"gte=0"`
	Endpoints Endpoints     `yaml:"endpoints"`
}

func DefaultOptions(baseURL string) Options {
	return Options{
		BaseURL:   baseURL,
		Timeout:   10 * time.Second,
		RateLimit: 20,
		Burst:     10,
		Endpoints: DefaultEndpoints(),
	}
}

type templates struct {
	root, children, parents, profiles, profile *uritemplate.Template
}

// Client implements graph.Querier and profile.Backend over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	tpl        templates
}

// New creates a client. It fails only on malformed endpoint templates.
func New(opts Options) (*Client, error) {
	var tpl templates
	for _, t := range []struct {
		dst  **uritemplate.Template
		name string
		src  string
	}{
		{&tpl.root, "root", opts.Endpoints.Root},
		{&tpl.children, "children", opts.Endpoints.Children},
		{&tpl.parents, "parents", opts.Endpoints.Parents},
		{&tpl.profiles, "profiles", opts.Endpoints.Profiles},
		{&tpl.profile, "profile", opts.Endpoints.Profile},
	} {
		parsed, err := uritemplate.New(t.src)
		if err != nil {
			return nil, fmt.Errorf("invalid %s endpoint template %q: %w", t.name, t.src, err)
		}
		*t.dst = parsed
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      opts.Token,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		tpl:        tpl,
	}, nil
}

func intValues(ids []int) uritemplate.Value {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = strconv.Itoa(id)
	}
	return uritemplate.List(s...)
}

func graphVars(id int, typeIDs, relationIDs []int) uritemplate.Values {
	vals := uritemplate.Values{}
	vals.Set("id", uritemplate.String(strconv.Itoa(id)))
	if len(typeIDs) > 0 {
		vals.Set("type_ids", intValues(typeIDs))
	}
	if len(relationIDs) > 0 {
		vals.Set("relation_ids", intValues(relationIDs))
	}
	return vals
}

func profileVars(publicID int) uritemplate.Values {
	vals := uritemplate.Values{}
	vals.Set("public_id", uritemplate.String(strconv.Itoa(publicID)))
	return vals
}

// jsonRequest executes one request: rate limit, JSON body, bearer token,
// error decoding.
func (c *Client) jsonRequest(ctx context.Context, op, method string, tpl *uritemplate.Template, vars uritemplate.Values, payload any) ([]byte, error) {
	endpoint, err := tpl.Expand(vars)
	if err != nil {
		return nil, fmt.Errorf("failed to expand endpoint: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON payload: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.BackendRequestsTotal.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("connection error: %w", err)
	}
	defer resp.Body.Close()
	metrics.BackendRequestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && (errResp.Error != "" || errResp.Message != "") {
			msg := errResp.Error
			if msg == "" {
				msg = errResp.Message
			}
			return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	return respBody, nil
}

func (c *Client) graphQuery(ctx context.Context, op string, tpl *uritemplate.Template, id int, typeIDs, relationIDs []int) (*cmdb.GraphResponse, error) {
	body, err := c.jsonRequest(ctx, op, http.MethodGet, tpl, graphVars(id, typeIDs, relationIDs), nil)
	if err != nil {
		return nil, err
	}
	var resp cmdb.GraphResponse
	if len(body) == 0 {
		return &resp, nil
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response for %s: %w", op, err)
	}
	return &resp, nil
}

// --- Graph queries ---

// LoadWithRoot fetches a root CI and its first layer in both directions.
func (c *Client) LoadWithRoot(ctx context.Context, id int, typeIDs, relationIDs []int) (*cmdb.GraphResponse, error) {
	return c.graphQuery(ctx, "root", c.tpl.root, id, typeIDs, relationIDs)
}

// ExpandChild fetches the dependents of a CI.
func (c *Client) ExpandChild(ctx context.Context, id int, typeIDs, relationIDs []int) (*cmdb.GraphResponse, error) {
	return c.graphQuery(ctx, "children", c.tpl.children, id, typeIDs, relationIDs)
}

// ExpandParent fetches the dependencies of a CI.
func (c *Client) ExpandParent(ctx context.Context, id int, typeIDs, relationIDs []int) (*cmdb.GraphResponse, error) {
	return c.graphQuery(ctx, "parents", c.tpl.parents, id, typeIDs, relationIDs)
}

// --- Filter profiles ---

func (c *Client) ListProfiles(ctx context.Context) ([]cmdb.FilterProfile, error) {
	body, err := c.jsonRequest(ctx, "profile_list", http.MethodGet, c.tpl.profiles, uritemplate.Values{}, nil)
	if err != nil {
		return nil, err
	}
	var resp []cmdb.FilterProfile
	if len(body) == 0 {
		return resp, nil
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response for ListProfiles: %w", err)
	}
	return resp, nil
}

func (c *Client) CreateProfile(ctx context.Context, p cmdb.FilterProfile) (cmdb.FilterProfile, error) {
	body, err := c.jsonRequest(ctx, "profile_create", http.MethodPost, c.tpl.profiles, uritemplate.Values{}, p)
	if err != nil {
		return cmdb.FilterProfile{}, err
	}
	return decodeProfile(body, p, "CreateProfile")
}

func (c *Client) UpdateProfile(ctx context.Context, publicID int, p cmdb.FilterProfile) (cmdb.FilterProfile, error) {
	body, err := c.jsonRequest(ctx, "profile_update", http.MethodPut, c.tpl.profile, profileVars(publicID), p)
	if err != nil {
		return cmdb.FilterProfile{}, err
	}
	p.PublicID = publicID
	return decodeProfile(body, p, "UpdateProfile")
}

func (c *Client) DeleteProfile(ctx context.Context, publicID int) error {
	_, err := c.jsonRequest(ctx, "profile_delete", http.MethodDelete, c.tpl.profile, profileVars(publicID), nil)
	return err
}

// decodeProfile reads the stored profile back; an empty body echoes what
// was sent.
func decodeProfile(body []byte, sent cmdb.FilterProfile, op string) (cmdb.FilterProfile, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return sent, nil
	}
	var out cmdb.FilterProfile
	if err := json.Unmarshal(body, &out); err != nil {
		return cmdb.FilterProfile{}, fmt.Errorf("invalid JSON response for %s: %w", op, err)
	}
	return out, nil
}
