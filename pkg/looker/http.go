package looker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// Defaults for HTTPClient.
const (
	DefaultAPIVersion = "4.0"
	DefaultTimeout    = 300 * time.Second
	DefaultMaxRetries = 5
	DefaultRetryBase  = time.Second
	maxRetryDelay     = 30 * time.Second
	tokenExpiryMargin = 30 * time.Second
	maxErrorBodyBytes = 4096
)

// Config configures an HTTPClient.
type Config struct {
	// BaseURL is the instance URL, e.g. https://company.looker.com.
	BaseURL string
	// Port is appended to BaseURL for API calls. Zero keeps BaseURL as is.
	Port int
	// APIVersion defaults to DefaultAPIVersion.
	APIVersion   string
	ClientID     string
	ClientSecret string
	// Timeout bounds each HTTP request. Defaults to DefaultTimeout.
	Timeout time.Duration
	// MaxRetries for network errors and 502/504 responses.
	MaxRetries uint64
	// RetryBase is the first backoff delay. Defaults to DefaultRetryBase.
	RetryBase time.Duration
	// HTTPClient overrides the transport. Its Timeout is left untouched.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// HTTPClient implements Client against the Looker REST API.
type HTTPClient struct {
	baseURL      string
	apiURL       string
	clientID     string
	clientSecret string
	http         *http.Client
	maxRetries   uint64
	retryBase    time.Duration
	logger       *slog.Logger

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client. It does not contact the server; the first
// request authenticates lazily.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL %q must start with http:// or https://", cfg.BaseURL)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	version := cfg.APIVersion
	if version == "" {
		version = DefaultAPIVersion
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = DefaultRetryBase
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	root := base
	if cfg.Port != 0 {
		root = base + ":" + strconv.Itoa(cfg.Port)
	}

	return &HTTPClient{
		baseURL:      base,
		apiURL:       ComposeURL(root, []string{"api", version}, nil),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		http:         httpClient,
		maxRetries:   cfg.MaxRetries,
		retryBase:    retryBase,
		logger:       logger,
	}, nil
}

// BaseURL returns the instance URL used to build browser links.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Authenticate exchanges the API credentials for an access token.
func (c *HTTPClient) Authenticate(ctx context.Context) error {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	var token struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	loginURL := ComposeURL(c.apiURL, []string{"login"}, nil)
	err := c.send(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}, &token)
	if err != nil {
		return fmt.Errorf("failed to authenticate to %s: %w", c.apiURL, err)
	}
	if token.AccessToken == "" {
		return fmt.Errorf("failed to authenticate to %s: no access token returned", c.apiURL)
	}

	c.mu.Lock()
	c.accessToken = token.AccessToken
	c.expiresAt = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	c.mu.Unlock()

	c.logger.Debug("authenticated", "api_url", c.apiURL, "expires_in", token.ExpiresIn)
	return nil
}

func (c *HTTPClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	tok, exp := c.accessToken, c.expiresAt
	c.mu.Unlock()
	if tok != "" && time.Now().Add(tokenExpiryMargin).Before(exp) {
		return tok, nil
	}
	if err := c.Authenticate(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken, nil
}

// do performs an authenticated JSON request. out may be nil, a *string for
// raw text, or a pointer to decode JSON into.
func (c *HTTPClient) do(ctx context.Context, method string, path []string, params map[string][]string, body, out any) error {
	tok, err := c.token(ctx)
	if err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	target := ComposeURL(c.apiURL, path, params)
	return c.send(ctx, func(ctx context.Context) (*http.Request, error) {
		var r io.Reader
		if payload != nil {
			r = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, r)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "token "+tok)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	}, out)
}

// send executes a request with exponential backoff on network errors and
// gateway failures. All other non-2xx responses fail immediately.
func (c *HTTPClient) send(ctx context.Context, build func(context.Context) (*http.Request, error), out any) error {
	b := retry.NewExponential(c.retryBase)
	b = retry.WithCappedDuration(maxRetryDelay, b)
	b = retry.WithMaxRetries(c.maxRetries, b)

	return retry.Do(ctx, b, func(ctx context.Context) error {
		req, err := build(ctx)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Debug("request failed, retrying", "method", req.Method, "url", req.URL.String(), "error", err)
			return retry.RetryableError(err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
			apiErr := &APIError{
				Method: req.Method,
				URL:    req.URL.String(),
				Status: resp.StatusCode,
				Body:   strings.TrimSpace(string(raw)),
			}
			if retryableStatus(resp.StatusCode) {
				c.logger.Debug("gateway error, retrying", "method", req.Method, "url", apiErr.URL, "status", resp.StatusCode)
				return retry.RetryableError(apiErr)
			}
			return apiErr
		}

		return decodeBody(resp, out)
	})
}

func decodeBody(resp *http.Response, out any) error {
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if s, ok := out.(*string); ok {
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		*s = string(raw)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", resp.Request.URL.Path, err)
	}
	return nil
}

// GetLookerRelease returns the Looker release version.
func (c *HTTPClient) GetLookerRelease(ctx context.Context) (string, error) {
	var v struct {
		LookerReleaseVersion string `json:"looker_release_version"`
	}
	if err := c.do(ctx, http.MethodGet, []string{"versions"}, nil, nil, &v); err != nil {
		return "", fmt.Errorf("failed to get Looker version: %w", err)
	}
	return v.LookerReleaseVersion, nil
}

// GetWorkspace returns the session workspace.
func (c *HTTPClient) GetWorkspace(ctx context.Context) (Workspace, error) {
	var s struct {
		WorkspaceID Workspace `json:"workspace_id"`
	}
	if err := c.do(ctx, http.MethodGet, []string{"session"}, nil, nil, &s); err != nil {
		return "", fmt.Errorf("failed to get workspace: %w", err)
	}
	return s.WorkspaceID, nil
}

// UpdateWorkspace switches the session workspace.
func (c *HTTPClient) UpdateWorkspace(ctx context.Context, workspace Workspace) error {
	if workspace != WorkspaceDev && workspace != WorkspaceProduction {
		return fmt.Errorf("workspace must be %q or %q, got %q", WorkspaceDev, WorkspaceProduction, workspace)
	}
	body := map[string]Workspace{"workspace_id": workspace}
	if err := c.do(ctx, http.MethodPatch, []string{"session"}, nil, body, nil); err != nil {
		return fmt.Errorf("failed to update workspace to %s: %w", workspace, err)
	}
	c.logger.Debug("updated workspace", "workspace", workspace)
	return nil
}

// GetActiveBranch returns the checked out branch of a project.
func (c *HTTPClient) GetActiveBranch(ctx context.Context, project string) (Branch, error) {
	var b Branch
	if err := c.do(ctx, http.MethodGet, []string{"projects", project, "git_branch"}, nil, nil, &b); err != nil {
		return Branch{}, fmt.Errorf("failed to get active branch for project %s: %w", project, err)
	}
	return b, nil
}

// GetAllBranches lists the branch names of a project.
func (c *HTTPClient) GetAllBranches(ctx context.Context, project string) ([]string, error) {
	var branches []Branch
	params := map[string][]string{"fields": {"name"}}
	if err := c.do(ctx, http.MethodGet, []string{"projects", project, "git_branches"}, params, nil, &branches); err != nil {
		return nil, fmt.Errorf("failed to list branches for project %s: %w", project, err)
	}
	names := make([]string, 0, len(branches))
	for _, b := range branches {
		names = append(names, b.Name)
	}
	return names, nil
}

// CheckoutBranch checks out an existing branch.
func (c *HTTPClient) CheckoutBranch(ctx context.Context, project, branch string) error {
	body := map[string]string{"name": branch}
	if err := c.do(ctx, http.MethodPut, []string{"projects", project, "git_branch"}, nil, body, nil); err != nil {
		return fmt.Errorf("failed to checkout branch %s in project %s: %w", branch, project, err)
	}
	c.logger.Debug("checked out branch", "project", project, "branch", branch)
	return nil
}

// CreateBranch creates a branch off ref and checks it out. An empty ref
// branches off the current branch.
func (c *HTTPClient) CreateBranch(ctx context.Context, project, branch, ref string) error {
	body := map[string]string{"name": branch}
	if ref != "" {
		body["ref"] = ref
	}
	if err := c.do(ctx, http.MethodPost, []string{"projects", project, "git_branch"}, nil, body, nil); err != nil {
		return fmt.Errorf("failed to create branch %s off %q in project %s: %w", branch, ref, project, err)
	}
	c.logger.Debug("created branch", "project", project, "branch", branch, "ref", ref)
	return nil
}

// HardResetBranch resets the active branch to ref.
func (c *HTTPClient) HardResetBranch(ctx context.Context, project, branch, ref string) error {
	body := map[string]string{"name": branch, "ref": ref}
	if err := c.do(ctx, http.MethodPut, []string{"projects", project, "git_branch"}, nil, body, nil); err != nil {
		return fmt.Errorf("failed to reset branch %s to %s in project %s: %w", branch, ref, project, err)
	}
	c.logger.Debug("hard reset branch", "project", project, "branch", branch, "ref", ref)
	return nil
}

// DeleteBranch deletes a branch that is not checked out.
func (c *HTTPClient) DeleteBranch(ctx context.Context, project, branch string) error {
	if err := c.do(ctx, http.MethodDelete, []string{"projects", project, "git_branch", branch}, nil, nil, nil); err != nil {
		return fmt.Errorf("failed to delete branch %s in project %s: %w", branch, project, err)
	}
	c.logger.Debug("deleted branch", "project", project, "branch", branch)
	return nil
}

// ResetToRemote resets the active branch to its remote tip.
func (c *HTTPClient) ResetToRemote(ctx context.Context, project string) error {
	if err := c.do(ctx, http.MethodPost, []string{"projects", project, "reset_to_remote"}, nil, nil, nil); err != nil {
		return fmt.Errorf("failed to reset project %s to remote: %w", project, err)
	}
	return nil
}

// GetManifest returns the project manifest.
func (c *HTTPClient) GetManifest(ctx context.Context, project string) (Manifest, error) {
	var m Manifest
	if err := c.do(ctx, http.MethodGet, []string{"projects", project, "manifest"}, nil, nil, &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to get manifest for project %s: %w", project, err)
	}
	return m, nil
}

// GetLookMLModels lists all models with their explores.
func (c *HTTPClient) GetLookMLModels(ctx context.Context) ([]LookMLModel, error) {
	var models []LookMLModel
	params := map[string][]string{"fields": {"name", "project_name", "explores"}}
	if err := c.do(ctx, http.MethodGet, []string{"lookml_models"}, params, nil, &models); err != nil {
		return nil, fmt.Errorf("failed to list LookML models: %w", err)
	}
	return models, nil
}

// GetLookMLFields returns the dimensions of an explore.
func (c *HTTPClient) GetLookMLFields(ctx context.Context, model, explore string) ([]LookMLField, error) {
	var e struct {
		Fields struct {
			Dimensions []LookMLField `json:"dimensions"`
		} `json:"fields"`
	}
	params := map[string][]string{"fields": {"fields"}}
	if err := c.do(ctx, http.MethodGet, []string{"lookml_models", model, "explores", explore}, params, nil, &e); err != nil {
		return nil, fmt.Errorf("failed to get fields for %s/%s: %w", model, explore, err)
	}
	return e.Fields.Dimensions, nil
}

// CreateQuery creates a query that selects the fields and returns no rows.
func (c *HTTPClient) CreateQuery(ctx context.Context, req QueryRequest) (Query, error) {
	body := struct {
		QueryRequest
		Limit            string `json:"limit"`
		FilterExpression string `json:"filter_expression"`
	}{req, "0", "1=2"}

	var q Query
	if err := c.do(ctx, http.MethodPost, []string{"queries"}, nil, body, &q); err != nil {
		return Query{}, fmt.Errorf("failed to create query for %s/%s: %w", req.Model, req.View, err)
	}
	return q, nil
}

// CreateQueryTask starts asynchronous execution of a query.
func (c *HTTPClient) CreateQueryTask(ctx context.Context, queryID, resultFormat string) (string, error) {
	body := map[string]string{"query_id": queryID, "result_format": resultFormat}
	params := map[string][]string{"cache": {"false"}}
	var task struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, []string{"query_tasks"}, params, body, &task); err != nil {
		return "", fmt.Errorf("failed to create query task for query %s: %w", queryID, err)
	}
	return task.ID, nil
}

// GetQueryTaskMultiResults polls several tasks in one call.
func (c *HTTPClient) GetQueryTaskMultiResults(ctx context.Context, taskIDs []string) (map[string]QueryResult, error) {
	params := map[string][]string{"query_task_ids": taskIDs}
	var raw map[string]map[string]any
	if err := c.do(ctx, http.MethodGet, []string{"query_tasks", "multi_results"}, params, nil, &raw); err != nil {
		return nil, fmt.Errorf("failed to get query task results: %w", err)
	}

	results := make(map[string]QueryResult, len(raw))
	for id, r := range raw {
		res, err := DecodeQueryResult(r)
		if err != nil {
			return nil, fmt.Errorf("failed to decode result of query task %s: %w", id, err)
		}
		results[id] = res
	}
	return results, nil
}

// CancelQueryTask cancels a running query task.
func (c *HTTPClient) CancelQueryTask(ctx context.Context, taskID string) error {
	if err := c.do(ctx, http.MethodDelete, []string{"running_queries", taskID}, nil, nil, nil); err != nil {
		return fmt.Errorf("failed to cancel query task %s: %w", taskID, err)
	}
	return nil
}

// RunQuery returns the SQL a query compiles to without running it.
func (c *HTTPClient) RunQuery(ctx context.Context, queryID string) (string, error) {
	var sql string
	if err := c.do(ctx, http.MethodGet, []string{"queries", queryID, "run", "sql"}, nil, nil, &sql); err != nil {
		return "", fmt.Errorf("failed to compile query %s: %w", queryID, err)
	}
	return sql, nil
}

// AllFolders lists every content folder.
func (c *HTTPClient) AllFolders(ctx context.Context) ([]Folder, error) {
	var folders []Folder
	params := map[string][]string{"fields": {"id", "name", "parent_id", "is_personal", "is_personal_descendant"}}
	if err := c.do(ctx, http.MethodGet, []string{"folders"}, params, nil, &folders); err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return folders, nil
}

// ContentValidation runs the content validator.
func (c *HTTPClient) ContentValidation(ctx context.Context) (ContentValidation, error) {
	var v ContentValidation
	if err := c.do(ctx, http.MethodGet, []string{"content_validation"}, nil, nil, &v); err != nil {
		return ContentValidation{}, fmt.Errorf("failed to validate content: %w", err)
	}
	return v, nil
}

// AllLookMLTests lists the data tests of a project.
func (c *HTTPClient) AllLookMLTests(ctx context.Context, project string) ([]LookMLTest, error) {
	var tests []LookMLTest
	if err := c.do(ctx, http.MethodGet, []string{"projects", project, "lookml_tests"}, nil, nil, &tests); err != nil {
		return nil, fmt.Errorf("failed to list data tests for project %s: %w", project, err)
	}
	return tests, nil
}

// RunLookMLTest runs data tests. Empty model or test runs all of them.
func (c *HTTPClient) RunLookMLTest(ctx context.Context, project, model, test string) ([]LookMLTestResult, error) {
	params := map[string][]string{}
	if model != "" {
		params["model"] = []string{model}
	}
	if test != "" {
		params["test"] = []string{test}
	}
	var results []LookMLTestResult
	if err := c.do(ctx, http.MethodGet, []string{"projects", project, "lookml_tests", "run"}, params, nil, &results); err != nil {
		return nil, fmt.Errorf("failed to run data test %q in project %s: %w", test, project, err)
	}
	return results, nil
}

// CachedLookMLValidation returns the last LookML validation, or nil if
// there is none.
func (c *HTTPClient) CachedLookMLValidation(ctx context.Context, project string) (*LookMLValidation, error) {
	var v *LookMLValidation
	if err := c.do(ctx, http.MethodGet, []string{"projects", project, "validate"}, nil, nil, &v); err != nil {
		return nil, fmt.Errorf("failed to get cached LookML validation for project %s: %w", project, err)
	}
	return v, nil
}

// LookMLValidation validates the project's LookML.
func (c *HTTPClient) LookMLValidation(ctx context.Context, project string) (LookMLValidation, error) {
	var v LookMLValidation
	if err := c.do(ctx, http.MethodPost, []string{"projects", project, "validate"}, nil, nil, &v); err != nil {
		return LookMLValidation{}, fmt.Errorf("failed to validate LookML for project %s: %w", project, err)
	}
	return v, nil
}
