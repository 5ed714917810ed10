package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"lanshare/catalog"
	"lanshare/models"
	"lanshare/storage"
)

// DefaultHTTPPort is assumed when a host is given without a port.
const DefaultHTTPPort = 8000

// APIError is a structured error returned by a peer.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("peer returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("peer returned HTTP %d: %s", e.StatusCode, e.Message)
}

// Is lets callers match peer errors against the catalog sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case catalog.ErrNotFound, storage.ErrNotFound:
		return e.Kind == kindNotFound || e.StatusCode == http.StatusNotFound
	case catalog.ErrPayloadTooLarge:
		return e.Kind == kindPayloadTooLarge || e.StatusCode == http.StatusRequestEntityTooLarge
	case catalog.ErrInvalidName:
		return e.Kind == kindBadRequest
	}
	return false
}

// Client talks to a peer's HTTP file service.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// NewClient accepts "host", "host:port" or a full http:// URL.
func NewClient(target string, httpClient *http.Client) (*Client, error) {
	base, err := parseTarget(target)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: base, httpClient: httpClient}, nil
}

// BaseURL returns the peer's base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// ServerInfo fetches the peer's identity.
func (c *Client) ServerInfo(ctx context.Context) (models.ServerInfo, error) {
	var info models.ServerInfo
	err := c.getJSON(ctx, "/server-info", &info)
	return info, err
}

// Files lists the peer's catalog.
func (c *Client) Files(ctx context.Context) ([]models.FileEntry, error) {
	var list models.FileList
	if err := c.getJSON(ctx, "/files", &list); err != nil {
		return nil, err
	}
	return list.Files, nil
}

// Peers asks the peer to run a discovery scan.
func (c *Client) Peers(ctx context.Context) ([]models.Peer, error) {
	var peers []models.Peer
	err := c.getJSON(ctx, "/discover", &peers)
	return peers, err
}

// TransferQuery narrows a history request. Zero values are omitted.
type TransferQuery struct {
	Direction string
	Status    string
	Filename  string
	Limit     int
	Offset    int
}

func (q TransferQuery) encode() string {
	values := url.Values{}
	if q.Direction != "" {
		values.Set("direction", q.Direction)
	}
	if q.Status != "" {
		values.Set("status", q.Status)
	}
	if q.Filename != "" {
		values.Set("filename", q.Filename)
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		values.Set("offset", strconv.Itoa(q.Offset))
	}
	return values.Encode()
}

// Transfers fetches the peer's transfer history, newest first.
func (c *Client) Transfers(ctx context.Context, query TransferQuery) ([]models.Transfer, error) {
	path := "/transfers"
	if encoded := query.encode(); encoded != "" {
		path += "?" + encoded
	}
	var list models.TransferList
	if err := c.getJSON(ctx, path, &list); err != nil {
		return nil, err
	}
	return list.Transfers, nil
}

// Transfer fetches one history entry by id.
func (c *Client) Transfer(ctx context.Context, id string) (models.Transfer, error) {
	var transfer models.Transfer
	err := c.getJSON(ctx, "/transfers/"+url.PathEscape(id), &transfer)
	return transfer, err
}

// Upload streams r to the peer as a multipart "file" field named name.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (models.UploadResult, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", name)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/upload"), pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		return models.UploadResult{}, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		_ = pr.CloseWithError(err)
		return models.UploadResult{}, fmt.Errorf("upload %s: %w", name, err)
	}
	defer resp.Body.Close()
	// Unblock the writer if the peer answered before reading everything.
	_ = pr.CloseWithError(errors.New("upload response received"))

	if resp.StatusCode != http.StatusOK {
		return models.UploadResult{}, decodeAPIError(resp)
	}

	var result models.UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return models.UploadResult{}, fmt.Errorf("decode upload response: %w", err)
	}
	return result, nil
}

// Download streams the named file into w and returns the bytes written.
func (c *Client) Download(ctx context.Context, name string, w io.Writer) (int64, error) {
	resp, err := c.get(ctx, "/download/"+url.PathEscape(name))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, decodeAPIError(resp)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download %s: %w", name, err)
	}
	return n, nil
}

// Size returns the Content-Length the peer reports for a file, or -1.
func (c *Client) Size(ctx context.Context, name string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.endpoint("/download/"+url.PathEscape(name)), nil)
	if err != nil {
		return -1, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return -1, fmt.Errorf("HEAD %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return -1, &APIError{StatusCode: resp.StatusCode}
	}
	return resp.ContentLength, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	return resp, nil
}

func (c *Client) endpoint(path string) string {
	return strings.TrimSuffix(c.baseURL.String(), "/") + path
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body models.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		apiErr.Kind = body.Error
		apiErr.Message = body.Message
	}
	return apiErr
}

func parseTarget(target string) (*url.URL, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, errors.New("peer address is required")
	}
	if !strings.Contains(target, "://") {
		if _, _, err := net.SplitHostPort(target); err != nil {
			target = net.JoinHostPort(target, strconv.Itoa(DefaultHTTPPort))
		}
		target = "http://" + target
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse peer address %q: %w", target, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("peer address %q has no host", target)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u, nil
}
