package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/catalogsync/internal/catalog/domain"
	"github.com/smallbiznis/catalogsync/internal/config"
	"github.com/smallbiznis/catalogsync/internal/failure"
	"github.com/smallbiznis/catalogsync/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	actionPath = "/api/3/action/"

	searchPageSize      = 1000
	defaultMaxRecords   = 100000
	maxResponseBytes    = 64 << 20
	defaultReadTimeout  = 30 * time.Second
	defaultWriteTimeout = 60 * time.Second
)

// Options configures a Client against one catalog instance.
type Options struct {
	BaseURL      string
	APIKey       string
	UserAgent    string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRecords   int
	HTTPClient   *http.Client
}

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
}

type Client struct {
	baseURL    string
	apiKey     string
	userAgent  string
	read       time.Duration
	write      time.Duration
	maxRecords int
	http       *http.Client
	log        *zap.Logger
}

// New returns the client for the configured catalog.
func New(p Params) domain.Client {
	return NewClient(Options{
		BaseURL:      p.Config.Catalog.URL,
		APIKey:       p.Config.Catalog.APIKey,
		UserAgent:    p.Config.Catalog.UserAgent,
		ReadTimeout:  p.Config.Catalog.ReadTimeout,
		WriteTimeout: p.Config.Catalog.WriteTimeout,
	}, p.Log)
}

// NewClient builds a client for an arbitrary catalog, such as a remote site
// being probed.
func NewClient(opts Options, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		apiKey:     strings.TrimSpace(opts.APIKey),
		userAgent:  opts.UserAgent,
		read:       opts.ReadTimeout,
		write:      opts.WriteTimeout,
		maxRecords: opts.MaxRecords,
		http:       tracing.WrapHTTPClient(httpClient),
		log:        log.Named("catalog.client"),
	}
	if c.userAgent == "" {
		c.userAgent = config.DefaultUserAgent
	}
	if c.read <= 0 {
		c.read = defaultReadTimeout
	}
	if c.write <= 0 {
		c.write = defaultWriteTimeout
	}
	if c.maxRecords <= 0 {
		c.maxRecords = defaultMaxRecords
	}
	return c
}

// call describes one action invocation. Query is sent as GET parameters;
// otherwise Body is POSTed as JSON.
type call struct {
	action string
	target string
	write  bool
	rows   int
	query  url.Values
	body   any
}

func (c *Client) do(ctx context.Context, in call, out any) error {
	timeout := c.read
	if in.write {
		timeout = c.write
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := c.baseURL + actionPath + in.action
	method := http.MethodGet
	var body io.Reader
	if in.query != nil {
		if encoded := in.query.Encode(); encoded != "" {
			endpoint += "?" + encoded
		}
	} else if in.body != nil {
		payload, err := json.Marshal(in.body)
		if err != nil {
			return c.fail(in, fmt.Errorf("encode request: %w", err))
		}
		method = http.MethodPost
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return c.fail(in, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return c.fail(in, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.fail(in, fmt.Errorf("read response: %w", err))
	}

	c.log.Debug("catalog action",
		zap.String("action", in.action),
		zap.String("target", in.target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(started)),
	)

	env, decodeErr := decodeEnvelope(raw)
	ok := resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices
	if decodeErr != nil {
		if ok {
			return c.fail(in, fmt.Errorf("decode response: %w", decodeErr))
		}
		return c.fail(in, &domain.APIError{Status: resp.StatusCode, Message: snippet(raw)})
	}
	if !ok || !env.Success {
		apiErr := env.Error
		if apiErr == nil {
			apiErr = &domain.APIError{Message: http.StatusText(resp.StatusCode)}
		}
		apiErr.Status = resp.StatusCode
		return c.fail(in, apiErr)
	}

	if out == nil || len(env.Result) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(env.Result))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return c.fail(in, fmt.Errorf("decode result: %w", err))
	}
	return nil
}

func decodeEnvelope(raw []byte) (domain.Envelope, error) {
	var env domain.Envelope
	if len(bytes.TrimSpace(raw)) == 0 {
		return env, errors.New("empty body")
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, err
	}
	return env, nil
}

// fail maps a call failure onto the error taxonomy.
func (c *Client) fail(in call, err error) error {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == http.StatusNotFound || apiErr.Type == "Not Found Error" {
			err = fmt.Errorf("%w: %w", domain.ErrNotFound, apiErr)
		}
		if in.write && isConflict(apiErr) {
			return &failure.ConflictError{Op: in.action, Target: in.target, Err: err}
		}
	}
	if in.write {
		return &failure.RemoteWriteError{Op: in.action, Target: in.target, Rows: in.rows, Err: err}
	}
	return &failure.RemoteReadError{Op: in.action, Target: in.target, Err: err}
}

func isConflict(e *domain.APIError) bool {
	if e.Status == http.StatusConflict {
		return true
	}
	return e.Mentions("duplicate key") || e.Mentions("unique constraint")
}

func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func (c *Client) PackageShow(ctx context.Context, id string) (domain.Package, error) {
	var out domain.Package
	err := c.do(ctx, call{action: "package_show", target: id, query: url.Values{"id": {id}}}, &out)
	return out, err
}

func (c *Client) PackagePatch(ctx context.Context, id string, fields map[string]any) (domain.Package, error) {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["id"] = id
	var out domain.Package
	err := c.do(ctx, call{action: "package_patch", target: id, write: true, body: body}, &out)
	return out, err
}

func (c *Client) PackageSearch(ctx context.Context, req domain.SearchRequest) (domain.SearchResult, error) {
	q := url.Values{}
	if req.Query != "" {
		q.Set("q", req.Query)
	}
	if req.Filter != "" {
		q.Set("fq", req.Filter)
	}
	rows := req.Rows
	if rows <= 0 {
		rows = searchPageSize
	}
	q.Set("rows", strconv.Itoa(rows))
	q.Set("start", strconv.Itoa(req.Start))

	var out domain.SearchResult
	err := c.do(ctx, call{action: "package_search", target: req.Filter, query: q}, &out)
	return out, err
}

// PackageSearchAll pages through package_search until count is reached.
func (c *Client) PackageSearchAll(ctx context.Context, req domain.SearchRequest) ([]domain.Package, error) {
	if req.Rows <= 0 {
		req.Rows = searchPageSize
	}
	var all []domain.Package
	for {
		page, err := c.PackageSearch(ctx, req)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Results...)
		req.Start += len(page.Results)
		if len(page.Results) == 0 || req.Start >= page.Count {
			return all, nil
		}
	}
}

func (c *Client) ResourceShow(ctx context.Context, id string) (domain.Resource, error) {
	var out domain.Resource
	err := c.do(ctx, call{action: "resource_show", target: id, query: url.Values{"id": {id}}}, &out)
	return out, err
}

func (c *Client) ResourceCreate(ctx context.Context, res domain.Resource) (domain.Resource, error) {
	var out domain.Resource
	err := c.do(ctx, call{action: "resource_create", target: res.PackageID, write: true, body: res}, &out)
	return out, err
}

func (c *Client) ResourceUpdate(ctx context.Context, res domain.Resource) (domain.Resource, error) {
	var out domain.Resource
	err := c.do(ctx, call{action: "resource_update", target: res.ID, write: true, body: res}, &out)
	return out, err
}

func (c *Client) ResourcePatch(ctx context.Context, id string, fields map[string]any) (domain.Resource, error) {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["id"] = id
	var out domain.Resource
	err := c.do(ctx, call{action: "resource_patch", target: id, write: true, body: body}, &out)
	return out, err
}

func (c *Client) ResourceDelete(ctx context.Context, id string) error {
	return c.do(ctx, call{action: "resource_delete", target: id, write: true, body: map[string]any{"id": id}}, nil)
}

func (c *Client) DatastoreCreate(ctx context.Context, req domain.DatastoreCreateRequest) (domain.DatastoreCreateResult, error) {
	target := req.ResourceID
	if target == "" && req.Resource != nil {
		target = req.Resource.PackageID + "/" + req.Resource.Name
	}
	var out domain.DatastoreCreateResult
	err := c.do(ctx, call{
		action: "datastore_create",
		target: target,
		write:  true,
		rows:   len(req.Records),
		body:   req,
	}, &out)
	return out, err
}

func (c *Client) DatastoreInfo(ctx context.Context, resourceID string) (domain.DatastoreInfo, error) {
	var out domain.DatastoreInfo
	err := c.do(ctx, call{action: "datastore_info", target: resourceID, body: map[string]any{"id": resourceID}}, &out)
	return out, err
}

func (c *Client) DatastoreSearch(ctx context.Context, req domain.DatastoreSearchRequest) (domain.DatastoreSearchResult, error) {
	if req.Limit <= 0 {
		req.Limit = searchPageSize
	}
	var out domain.DatastoreSearchResult
	err := c.do(ctx, call{action: "datastore_search", target: req.ResourceID, body: req}, &out)
	return out, err
}

// DatastoreSearchAll reads every record of a resource, dropping the
// catalog's internal _id column. Tables beyond the record cap are refused
// rather than truncated, since a partial read would misclassify rows.
func (c *Client) DatastoreSearchAll(ctx context.Context, resourceID string) (domain.DatastoreTable, error) {
	var table domain.DatastoreTable
	offset := 0
	for {
		page, err := c.DatastoreSearch(ctx, domain.DatastoreSearchRequest{
			ResourceID: resourceID,
			Limit:      searchPageSize,
			Offset:     offset,
		})
		if err != nil {
			return domain.DatastoreTable{}, err
		}
		if page.Total > c.maxRecords {
			return domain.DatastoreTable{}, &failure.RemoteReadError{
				Op:     "datastore_search",
				Target: resourceID,
				Err:    fmt.Errorf("%w: %d records exceeds cap of %d", domain.ErrTableTooLarge, page.Total, c.maxRecords),
			}
		}
		if table.Fields == nil {
			for _, f := range page.Fields {
				if f.ID == "_id" {
					continue
				}
				table.Fields = append(table.Fields, f)
			}
		}
		for _, rec := range page.Records {
			delete(rec, "_id")
			table.Records = append(table.Records, rec)
		}
		offset += len(page.Records)
		if len(page.Records) < searchPageSize || offset >= page.Total {
			return table, nil
		}
	}
}

func (c *Client) DatastoreUpsert(ctx context.Context, req domain.DatastoreUpsertRequest) error {
	if req.Method == "" {
		req.Method = domain.MethodInsert
	}
	return c.do(ctx, call{
		action: "datastore_upsert",
		target: req.ResourceID,
		write:  true,
		rows:   len(req.Records),
		body:   req,
	}, nil)
}

func (c *Client) DatastoreDelete(ctx context.Context, resourceID string) error {
	return c.do(ctx, call{
		action: "datastore_delete",
		target: resourceID,
		write:  true,
		body:   map[string]any{"resource_id": resourceID, "force": true},
	}, nil)
}

func (c *Client) StatusShow(ctx context.Context) (domain.Status, error) {
	var out domain.Status
	err := c.do(ctx, call{action: "status_show", target: c.baseURL, query: url.Values{}}, &out)
	return out, err
}

func (c *Client) PackageList(ctx context.Context) ([]string, error) {
	return c.list(ctx, "package_list")
}

func (c *Client) GroupList(ctx context.Context) ([]string, error) {
	return c.list(ctx, "group_list")
}

func (c *Client) OrganizationList(ctx context.Context) ([]string, error) {
	return c.list(ctx, "organization_list")
}

func (c *Client) list(ctx context.Context, action string) ([]string, error) {
	var out []string
	err := c.do(ctx, call{action: action, target: c.baseURL, query: url.Values{}}, &out)
	return out, err
}
