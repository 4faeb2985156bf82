package adsapi

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/packsync/packsync/pkg/pack"
	"github.com/packsync/packsync/pkg/polling"
	"github.com/packsync/packsync/pkg/whttp"
)

// Remote is the authoritative backend: job endpoints plus the pack store.
type Remote interface {
	SubmitJob(ctx context.Context, params SubmitParams) (Submission, error)
	JobStatus(ctx context.Context, jobID string) (polling.Job, error)
	FetchResult(ctx context.Context, resultRef string) (Result, error)
	CancelJob(ctx context.Context, jobID string) error
	DeletePack(ctx context.Context, packID string) error
	ListPacks(ctx context.Context) ([]pack.Pack, error)
	FetchPackAds(ctx context.Context, packID string) ([]pack.Ad, error)
}

// Submission is the server's answer to a job submission. PackID is set when
// the backend reserves the pack record up front.
type Submission struct {
	JobID  string
	PackID string
}

// Result is the finalized resource a completed job points at. Stats is nil
// when the backend did not precompute aggregates.
type Result struct {
	Pack  pack.Pack
	Ads   []pack.Ad
	Stats *pack.Stats
}

// HTTPError is a non-2xx response from the backend.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Title      string // <title> when the body was an HTML error page
	Message    string // error message from a JSON body
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	switch {
	case e.Message != "":
		msg += ": " + e.Message
	case e.Title != "":
		msg += ": " + e.Title
	}
	return msg
}

// HTTPStatus exposes the status code to the poll error classifier.
func (e *HTTPError) HTTPStatus() int { return e.StatusCode }

// Config configures a Client.
type Config struct {
	BaseURL           string
	Token             string
	Timeout           time.Duration
	RetryMax          int
	RequestsPerSecond float64 // 0 = unlimited
	Proxy             string
}

// Client talks to the backend over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *retryablehttp.Client
	limiter *rate.Limiter
}

var _ Remote = (*Client)(nil)

// NewClient builds a Client from cfg.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q", cfg.BaseURL)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.Logger = log.New(io.Discard, "", 0)
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	// Hand the last response back instead of a generic "giving up" error so
	// status codes reach the classifier.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if cfg.Timeout > 0 {
		retryClient.HTTPClient.Timeout = cfg.Timeout
	}

	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %v", err)
		}
		retryClient.HTTPClient.Transport = &http.Transport{
			Proxy:           http.ProxyURL(proxyURL),
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		baseURL: base.String(),
		token:   cfg.Token,
		http:    retryClient,
		limiter: limiter,
	}, nil
}

func (c *Client) send(ctx context.Context, method, path string, body interface{}) (*whttp.WHTTPRes, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req := &whttp.WHTTPReq{
		Method: method,
		URL:    c.baseURL + path,
	}
	if c.token != "" {
		req.Headers = append(req.Headers, whttp.WHTTPHeader{Name: "Authorization", Value: "Bearer " + c.token})
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		req.Body = string(data)
	}

	res, err := whttp.SendHTTPRequest(ctx, req, c.http)
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 400 {
		herr := &HTTPError{Method: method, Path: path, StatusCode: res.StatusCode, Title: res.HTTPTitle}
		if !res.IsHTML() && gjson.Valid(res.BodyString) {
			herr.Message = firstString(gjson.Parse(res.BodyString), "error", "message", "detail")
		}
		return res, herr
	}
	return res, nil
}

// jsonBody returns the response body, or a *polling.PayloadError when the
// backend answered 2xx with something other than JSON.
func jsonBody(res *whttp.WHTTPRes) (string, error) {
	if strings.TrimSpace(res.BodyString) == "" {
		return "", polling.ErrEmptyPayload
	}
	if res.IsHTML() {
		return "", &polling.PayloadError{Body: res.BodyString, Title: res.HTTPTitle, Reason: "HTML response"}
	}
	if !gjson.Valid(res.BodyString) {
		return "", &polling.PayloadError{Body: res.BodyString, Reason: "invalid JSON"}
	}
	return res.BodyString, nil
}

// SubmitJob starts an import or refresh job.
func (c *Client) SubmitJob(ctx context.Context, params SubmitParams) (Submission, error) {
	if err := params.Validate(); err != nil {
		return Submission{}, err
	}
	res, err := c.send(ctx, http.MethodPost, "/jobs", params)
	if err != nil {
		return Submission{}, fmt.Errorf("submit %s job: %w", params.Kind, err)
	}
	body, err := jsonBody(res)
	if err != nil {
		return Submission{}, fmt.Errorf("submit %s job: %w", params.Kind, err)
	}
	doc := gjson.Parse(body)
	sub := Submission{
		JobID:  firstString(doc, "job_id", "jobId", "id"),
		PackID: firstString(doc, "pack_id", "packId"),
	}
	if sub.JobID == "" {
		return Submission{}, fmt.Errorf("submit %s job: response has no job id", params.Kind)
	}
	return sub, nil
}

// JobStatus fetches the current status of a job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (polling.Job, error) {
	res, err := c.send(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return polling.Job{}, err
	}
	if res.IsHTML() {
		return polling.Job{}, &polling.PayloadError{Body: res.BodyString, Title: res.HTTPTitle, Reason: "HTML response"}
	}
	return polling.ParseStatus(jobID, res.BodyString)
}

// FetchResult fetches the resource a completed job produced.
func (c *Client) FetchResult(ctx context.Context, resultRef string) (Result, error) {
	res, err := c.send(ctx, http.MethodGet, "/results/"+url.PathEscape(resultRef), nil)
	if err != nil {
		return Result{}, err
	}
	body, err := jsonBody(res)
	if err != nil {
		return Result{}, err
	}
	return ParseResult(body)
}

// CancelJob asks the backend to stop a job. The backend may keep computing.
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	_, err := c.send(ctx, http.MethodPost, "/jobs/"+url.PathEscape(jobID)+"/cancel", nil)
	return err
}

// DeletePack removes a pack upstream. A pack that is already gone is not an
// error.
func (c *Client) DeletePack(ctx context.Context, packID string) error {
	_, err := c.send(ctx, http.MethodDelete, "/packs/"+url.PathEscape(packID), nil)
	var herr *HTTPError
	if errors.As(err, &herr) && herr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// ListPacks returns every pack the backend knows about.
func (c *Client) ListPacks(ctx context.Context) ([]pack.Pack, error) {
	res, err := c.send(ctx, http.MethodGet, "/packs", nil)
	if err != nil {
		return nil, err
	}
	body, err := jsonBody(res)
	if err != nil {
		return nil, err
	}
	return ParsePacks(body), nil
}

// FetchPackAds returns the full, unfiltered ad list of a pack.
func (c *Client) FetchPackAds(ctx context.Context, packID string) ([]pack.Ad, error) {
	res, err := c.send(ctx, http.MethodGet, "/packs/"+url.PathEscape(packID)+"/ads", nil)
	if err != nil {
		return nil, err
	}
	body, err := jsonBody(res)
	if err != nil {
		return nil, err
	}
	return ParseAds(body), nil
}
