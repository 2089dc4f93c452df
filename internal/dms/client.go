// Package dms provides a client for the external document-management
// service (a paperless-ngx-style REST API). It is the only package that
// talks directly to that service; everything else in the RAG pipeline goes
// through the Document/PagedDocuments shapes defined here.
package dms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paperless-rag/ragserver-go/internal/ragerr"
)

const component = "dms"

// Document is the DMS document metadata the core reads transiently.
type Document struct {
	ID                int      `json:"id"`
	Title             string   `json:"title"`
	OriginalFileName  string   `json:"original_file_name"`
	FileType          string   `json:"-"`
	Tags              []string `json:"tags_display,omitempty"`
	TagIDs            []int    `json:"tags,omitempty"`
	Created           time.Time `json:"created"`
	Modified          time.Time `json:"modified"`
}

// PagedDocuments is one page of a document listing.
type PagedDocuments struct {
	Count    int        `json:"count"`
	Next     *string    `json:"next"`
	Previous *string    `json:"previous"`
	Results  []Document `json:"results"`
}

// Client talks to the DMS over HTTP using a long-lived bearer token.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiToken   string
	listClient *http.Client
	dlClient   *http.Client
}

// Config holds the settings for constructing a Client.
type Config struct {
	// BaseURL is the DMS API base, e.g. "https://paperless.example.com".
	BaseURL string
	// APIToken is the long-lived bearer token.
	APIToken string
}

// New constructs a Client from cfg.
func New(cfg Config) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiToken:   cfg.APIToken,
		listClient: &http.Client{Timeout: 60 * time.Second},
		dlClient:   &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *Client) authHeader(req *http.Request) {
	req.Header.Set("Authorization", "Token "+c.apiToken)
	req.Header.Set("Accept", "application/json")
}

// ListDocuments returns a page of documents from the DMS, newest-first by
// default. pageSize defaults to 100 when <= 0. updatedAfter, if non-nil,
// filters to documents modified after that instant.
func (c *Client) ListDocuments(ctx context.Context, updatedAfter *time.Time, pageSize int, ordering string) (*PagedDocuments, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	if ordering == "" {
		ordering = "-created"
	}

	q := url.Values{}
	q.Set("ordering", ordering)
	q.Set("page_size", strconv.Itoa(pageSize))
	if updatedAfter != nil {
		q.Set("modified__gt", updatedAfter.UTC().Format(time.RFC3339))
	}

	endpoint := c.baseURL + "/api/documents/?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, ragerr.New(ragerr.UpstreamDMSError, component, "ListDocuments", 0, err)
	}
	c.authHeader(req)

	resp, err := c.listClient.Do(req)
	if err != nil {
		return nil, ragerr.New(ragerr.UpstreamDMSError, component, "ListDocuments", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(component, "ListDocuments", resp)
	}

	var page PagedDocuments
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, ragerr.New(ragerr.UpstreamDMSError, component, "ListDocuments", resp.StatusCode, err)
	}
	for i := range page.Results {
		page.Results[i].FileType = fileExt(page.Results[i].OriginalFileName)
	}
	return &page, nil
}

// ListDocumentsPage returns one limit/offset page of documents, translating
// offset into the DMS's native page-number pagination under the assumption
// that callers use a stable limit across a paging session.
func (c *Client) ListDocumentsPage(ctx context.Context, limit, offset int) (*PagedDocuments, error) {
	if limit <= 0 {
		limit = 25
	}
	if offset < 0 {
		offset = 0
	}
	page := offset/limit + 1

	q := url.Values{}
	q.Set("page_size", strconv.Itoa(limit))
	q.Set("page", strconv.Itoa(page))

	endpoint := c.baseURL + "/api/documents/?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, ragerr.New(ragerr.UpstreamDMSError, component, "ListDocumentsPage", 0, err)
	}
	c.authHeader(req)

	resp, err := c.listClient.Do(req)
	if err != nil {
		return nil, ragerr.New(ragerr.UpstreamDMSError, component, "ListDocumentsPage", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(component, "ListDocumentsPage", resp)
	}

	var result PagedDocuments
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, ragerr.New(ragerr.UpstreamDMSError, component, "ListDocumentsPage", resp.StatusCode, err)
	}
	for i := range result.Results {
		result.Results[i].FileType = fileExt(result.Results[i].OriginalFileName)
	}
	return &result, nil
}

// SearchDocumentsByTitle returns up to limit documents whose title contains
// query (case-insensitive), using the DMS's native title filter.
func (c *Client) SearchDocumentsByTitle(ctx context.Context, query string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 25
	}

	q := url.Values{}
	q.Set("title__icontains", query)
	q.Set("page_size", strconv.Itoa(limit))
	q.Set("ordering", "title")

	endpoint := c.baseURL + "/api/documents/?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, ragerr.New(ragerr.UpstreamDMSError, component, "SearchDocumentsByTitle", 0, err)
	}
	c.authHeader(req)

	resp, err := c.listClient.Do(req)
	if err != nil {
		return nil, ragerr.New(ragerr.UpstreamDMSError, component, "SearchDocumentsByTitle", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(component, "SearchDocumentsByTitle", resp)
	}

	var result PagedDocuments
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, ragerr.New(ragerr.UpstreamDMSError, component, "SearchDocumentsByTitle", resp.StatusCode, err)
	}
	for i := range result.Results {
		result.Results[i].FileType = fileExt(result.Results[i].OriginalFileName)
	}
	return result.Results, nil
}

// GetDocument fetches metadata for a single document.
func (c *Client) GetDocument(ctx context.Context, docID int) (*Document, error) {
	endpoint := fmt.Sprintf("%s/api/documents/%d/", c.baseURL, docID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, ragerr.New(ragerr.UpstreamDMSError, component, "GetDocument", 0, err)
	}
	c.authHeader(req)

	resp, err := c.listClient.Do(req)
	if err != nil {
		return nil, ragerr.New(ragerr.UpstreamDMSError, component, "GetDocument", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ragerr.New(ragerr.NotFound, component, "GetDocument", resp.StatusCode, fmt.Errorf("document %d not found", docID))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(component, "GetDocument", resp)
	}

	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, ragerr.New(ragerr.UpstreamDMSError, component, "GetDocument", resp.StatusCode, err)
	}
	doc.FileType = fileExt(doc.OriginalFileName)
	return &doc, nil
}

// fileExt returns the lowercased extension (without the dot) of filename,
// or "" if there is none.
func fileExt(filename string) string {
	i := strings.LastIndex(filename, ".")
	if i < 0 || i == len(filename)-1 {
		return ""
	}
	return strings.ToLower(filename[i+1:])
}

// DownloadDocument fetches the original binary content of a document.
func (c *Client) DownloadDocument(ctx context.Context, docID int) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/api/documents/%d/download/", c.baseURL, docID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, ragerr.New(ragerr.UpstreamDMSError, component, "DownloadDocument", 0, err)
	}
	c.authHeader(req)

	resp, err := c.dlClient.Do(req)
	if err != nil {
		return nil, ragerr.New(ragerr.UpstreamDMSError, component, "DownloadDocument", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(component, "DownloadDocument", resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ragerr.New(ragerr.UpstreamDMSError, component, "DownloadDocument", resp.StatusCode, err)
	}
	return body, nil
}

// BuildDocumentURL returns the canonical viewer URL for a document, purely
// derived from the configured base URL.
func (c *Client) BuildDocumentURL(docID int) string {
	return fmt.Sprintf("%s/documents/%d/", c.baseURL, docID)
}

// statusError builds a ragerr.Error from a non-2xx DMS response, consuming a
// bounded amount of the body for diagnostic context.
func statusError(component, operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return ragerr.New(ragerr.UpstreamDMSError, component, operation, resp.StatusCode,
		fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
}
