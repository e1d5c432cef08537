// Package tact implements the TACT HTTP version-discovery protocol: an
// HTTPS GET to {region}.version.battle.net, mirroring Ribbit's endpoints
// and returning the same BPSV content. It is the resolver's fallback
// source when Ribbit is unreachable.
//
// Grounded on the cdn package's client shape (a thin http.Client wrapper,
// transient failures classified via ngdperr) and on the teacher's habit
// of keeping one HTTP transport builder shared across clients.
package tact

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/wowemulation-dev/ngdp/bpsv"
	"github.com/wowemulation-dev/ngdp/internal/ngdperr"
	"github.com/wowemulation-dev/ngdp/telemetry"
)

// Client speaks TACT HTTP to one region's host.
type Client struct {
	HTTPClient *http.Client
	Region     string
	Scheme     string // "https" by default
	// Host overrides the default "{region}.version.battle.net" derivation.
	// Mainly for pointing a Client at a test server.
	Host string
}

// NewClient builds a client for region, defaulting to HTTPS against
// {region}.version.battle.net.
func NewClient(httpClient *http.Client, region string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{HTTPClient: httpClient, Region: region, Scheme: "https"}
}

func (c *Client) scheme() string {
	if c.Scheme == "" {
		return "https"
	}
	return c.Scheme
}

func (c *Client) host() string {
	if c.Host != "" {
		return c.Host
	}
	return c.Region + ".version.battle.net"
}

// GetEndpoint performs the GET for products/{product}/{endpoint} (e.g.
// "versions", "cdns", "bgdl") and returns the raw BPSV body.
func (c *Client) GetEndpoint(ctx context.Context, product, endpoint string) ([]byte, error) {
	url := fmt.Sprintf("%s://%s/v2/products/%s/%s", c.scheme(), c.host(), product, endpoint)
	return c.get(ctx, url)
}

// GetSummary performs the GET for the region-wide `summary` endpoint,
// which lists every product and its current sequence number.
func (c *Client) GetSummary(ctx context.Context) ([]byte, error) {
	url := fmt.Sprintf("%s://%s/v2/summary", c.scheme(), c.host())
	return c.get(ctx, url)
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	ctx, span := telemetry.StartSpan(ctx, "tact.get")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &ngdperr.Protocol{Kind: "bad_request", Detail: err.Error()}
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &ngdperr.Transient{Op: "GET", URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &ngdperr.Missing{Kind: "tact_endpoint", Resource: url}
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &ngdperr.Transient{Op: "GET", URL: url, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ngdperr.Protocol{Kind: "tact_status", Detail: fmt.Sprintf("unexpected status %d from %s", resp.StatusCode, url)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ngdperr.Transient{Op: "read", URL: url, Err: err}
	}
	return body, nil
}

// GetVersions fetches and parses the `versions` endpoint for product.
func (c *Client) GetVersions(ctx context.Context, product string) ([]VersionEntry, error) {
	body, err := c.GetEndpoint(ctx, product, "versions")
	if err != nil {
		return nil, err
	}
	doc, err := bpsv.Parse(body)
	if err != nil {
		return nil, err
	}
	return DecodeVersions(doc)
}

// GetCDNs fetches and parses the `cdns` endpoint for product.
func (c *Client) GetCDNs(ctx context.Context, product string) ([]CDNEntry, error) {
	body, err := c.GetEndpoint(ctx, product, "cdns")
	if err != nil {
		return nil, err
	}
	doc, err := bpsv.Parse(body)
	if err != nil {
		return nil, err
	}
	return DecodeCDNs(doc)
}

// GetBGDL fetches and parses the `bgdl` (background downloader) endpoint
// for product; it shares the versions schema.
func (c *Client) GetBGDL(ctx context.Context, product string) ([]VersionEntry, error) {
	body, err := c.GetEndpoint(ctx, product, "bgdl")
	if err != nil {
		return nil, err
	}
	doc, err := bpsv.Parse(body)
	if err != nil {
		return nil, err
	}
	return DecodeVersions(doc)
}

// Summary fetches and parses the region-wide summary document.
func (c *Client) Summary(ctx context.Context) ([]SummaryEntry, error) {
	body, err := c.GetSummary(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := bpsv.Parse(body)
	if err != nil {
		return nil, err
	}
	return DecodeSummary(doc)
}
