package crm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/oarkflow/json"
	"github.com/oarkflow/log"

	"github.com/medbridge/clinsync/pkg/config"
	"github.com/medbridge/clinsync/pkg/contracts"
	"github.com/medbridge/clinsync/pkg/utils"
)

// Client talks to the CRM REST API. It authenticates with the OAuth
// password flow at construction time; a connection failure here is fatal
// to the run.
type Client struct {
	cfg         config.CRMConfig
	httpClient  *http.Client
	logger      *log.Logger
	queryCache  *ristretto.Cache
	accessToken string
	instanceURL string
}

type Option func(*Client)

func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// New authenticates against the CRM and returns a ready client.
func New(ctx context.Context, cfg config.CRMConfig, opts ...Option) (*Client, error) {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		logger:     &log.DefaultLogger,
	}
	for _, opt := range opts {
		opt(c)
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1000,
		MaxCost:     100,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}
	c.queryCache = cache

	if err := c.authenticate(ctx); err != nil {
		return nil, err
	}
	c.logger.Info().Str("instance", c.instanceURL).Msg("Connected to CRM")
	return c, nil
}

// authenticate runs the OAuth password flow. The security token, when
// configured, is appended to the password as the API requires.
func (c *Client) authenticate(ctx context.Context) error {
	form := url.Values{
		"grant_type":    {"password"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"username":      {c.cfg.Username},
		"password":      {c.cfg.Password + c.cfg.SecurityToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("OAuth failed: %d - %s", resp.StatusCode, string(body))
	}

	var token struct {
		AccessToken string `json:"access_token"`
		InstanceURL string `json:"instance_url"`
	}
	if err := json.Unmarshal(body, &token); err != nil {
		return fmt.Errorf("parse token response: %w", err)
	}
	c.accessToken = token.AccessToken
	c.instanceURL = utils.FirstNonEmpty(c.cfg.InstanceURL, token.InstanceURL)
	return nil
}

func (c *Client) sobjectURL(object, path string) string {
	u := fmt.Sprintf("%s/services/data/%s/sobjects/%s", c.instanceURL, c.cfg.APIVersion, object)
	if path != "" {
		u += "/" + path
	}
	return u
}

// Upsert PATCHes a record keyed by its external id path and tags the
// response with one of the three known result shapes.
func (c *Client) Upsert(ctx context.Context, object, externalKeyPath string, payload utils.Record) (contracts.UpsertOutcome, error) {
	status, body, err := c.do(ctx, http.MethodPatch, c.sobjectURL(object, externalKeyPath), payload)
	if err != nil {
		return contracts.UpsertOutcome{}, err
	}
	if status >= 400 {
		return contracts.UpsertOutcome{}, fmt.Errorf("upsert %s: %d - %s", object, status, string(body))
	}
	if len(bytes.TrimSpace(body)) == 0 {
		// Updates report 204 with no body.
		return contracts.UpsertOutcome{Shape: contracts.ShapeStatusCode, StatusCode: status}, nil
	}
	var parsed struct {
		ID      string `json:"id"`
		Created bool   `json:"created"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return contracts.UpsertOutcome{Shape: contracts.ShapeStatusCode, StatusCode: status}, nil
	}
	if parsed.ID == "" {
		return contracts.UpsertOutcome{Shape: contracts.ShapeRecordNoID, Created: parsed.Created}, nil
	}
	return contracts.UpsertOutcome{Shape: contracts.ShapeRecordWithID, ID: parsed.ID, Created: parsed.Created}, nil
}

// Query runs a SOQL query.
func (c *Client) Query(ctx context.Context, soql string) (contracts.QueryResult, error) {
	endpoint := fmt.Sprintf("%s/services/data/%s/query?q=%s", c.instanceURL, c.cfg.APIVersion, url.QueryEscape(soql))
	status, body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return contracts.QueryResult{}, err
	}
	if status != http.StatusOK {
		return contracts.QueryResult{}, fmt.Errorf("query: %d - %s", status, string(body))
	}
	var result contracts.QueryResult
	if err := json.Unmarshal(body, &result); err != nil {
		return contracts.QueryResult{}, fmt.Errorf("parse query response: %w", err)
	}
	return result, nil
}

// QueryCached serves repeated read-only queries from a short-lived cache.
// Only the agent paths use this; synchronizer lookups always hit the CRM.
func (c *Client) QueryCached(ctx context.Context, soql string) (contracts.QueryResult, error) {
	if cached, ok := c.queryCache.Get(soql); ok {
		if result, ok := cached.(contracts.QueryResult); ok {
			return result, nil
		}
	}
	result, err := c.Query(ctx, soql)
	if err != nil {
		return contracts.QueryResult{}, err
	}
	c.queryCache.SetWithTTL(soql, result, 1, time.Minute)
	return result, nil
}

// Create POSTs a new record.
func (c *Client) Create(ctx context.Context, object string, payload utils.Record) (contracts.CreateResult, error) {
	status, body, err := c.do(ctx, http.MethodPost, c.sobjectURL(object, ""), payload)
	if err != nil {
		return contracts.CreateResult{}, err
	}
	if status >= 400 {
		return contracts.CreateResult{}, fmt.Errorf("create %s: %d - %s", object, status, string(body))
	}
	var result contracts.CreateResult
	if err := json.Unmarshal(body, &result); err != nil {
		return contracts.CreateResult{}, fmt.Errorf("parse create response: %w", err)
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload utils.Record) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal payload: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("method", method).Msg("CRM request failed")
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug().Str("method", method).Int("status", resp.StatusCode).Dur("duration", time.Since(start)).Msg("CRM request executed")
	return resp.StatusCode, body, nil
}
