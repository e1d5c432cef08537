// Package ribbit implements the Ribbit version-discovery protocol: a
// plain-text request line over TCP/1119, answered either with a raw BPSV
// document (V2) or a MIME-multipart envelope carrying a BPSV payload plus
// a PKCS#7 signature (V1).
//
// Grounded on the teacher's resolver-facing client style (cdn.Client): a
// small struct over net/http-equivalent primitives (here net.Dialer),
// mirrors tried in order, transient failures classified via ngdperr.
package ribbit

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/wowemulation-dev/ngdp/bpsv"
	"github.com/wowemulation-dev/ngdp/cache"
	"github.com/wowemulation-dev/ngdp/internal/ngdperr"
	"github.com/wowemulation-dev/ngdp/telemetry"
	"k8s.io/klog/v2"
)

const defaultPort = 1119

// Client speaks the Ribbit protocol to one region's host.
type Client struct {
	Region string
	Port   int
	Dialer *net.Dialer
	// Certs caches certificates fetched by Subject Key Identifier, so
	// signature verification doesn't re-dial for every response. May be
	// nil, in which case certificates are fetched but never cached.
	Certs *cache.ManifestCache
}

// NewClient builds a client for region (e.g. "us", "eu", "cn"), dialing
// {region}.version.battle.net:1119.
func NewClient(region string) *Client {
	return &Client{
		Region: region,
		Port:   defaultPort,
		Dialer: &net.Dialer{Timeout: 10 * time.Second},
	}
}

func (c *Client) host() string {
	return fmt.Sprintf("%s.version.battle.net:%d", c.Region, c.portOrDefault())
}

func (c *Client) portOrDefault() int {
	if c.Port == 0 {
		return defaultPort
	}
	return c.Port
}

// rawRequest sends "{line}\n" and reads the connection to EOF, per the
// Ribbit wire protocol (spec.md §4 "Ribbit (wire)"): one line in, full
// response out, connection closed by the server.
func (c *Client) rawRequest(ctx context.Context, line string) ([]byte, error) {
	ctx, span := telemetry.StartSpan(ctx, "ribbit.rawRequest")
	defer span.End()

	dialer := c.Dialer
	if dialer == nil {
		dialer = &net.Dialer{Timeout: 10 * time.Second}
	}
	conn, err := dialer.DialContext(ctx, "tcp", c.host())
	if err != nil {
		return nil, &ngdperr.Transient{Op: "dial", URL: c.host(), Err: err}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := io.WriteString(conn, line+"\n"); err != nil {
		return nil, &ngdperr.Transient{Op: "write", URL: c.host(), Err: err}
	}

	body, err := io.ReadAll(bufio.NewReader(conn))
	if err != nil {
		return nil, &ngdperr.Transient{Op: "read", URL: c.host(), Err: err}
	}
	return body, nil
}

// GetEndpoint fetches {version}/{endpoint} (e.g. "v1", "products/wow/versions")
// and returns the decoded BPSV payload, verifying the V1 envelope's
// checksum and signature when present.
func (c *Client) GetEndpoint(ctx context.Context, version, endpoint string) ([]byte, error) {
	raw, err := c.rawRequest(ctx, version+"/"+endpoint)
	if err != nil {
		return nil, err
	}
	return decodeResponse(ctx, c, raw)
}

// GetVersions fetches and parses the `versions` endpoint for product.
func (c *Client) GetVersions(ctx context.Context, product string) (*bpsv.Document, error) {
	return c.getBPSV(ctx, "v1", "products/"+product+"/versions")
}

// GetCDNs fetches and parses the `cdns` endpoint for product.
func (c *Client) GetCDNs(ctx context.Context, product string) (*bpsv.Document, error) {
	return c.getBPSV(ctx, "v1", "products/"+product+"/cdns")
}

// GetBGDL fetches and parses the `bgdl` endpoint for product.
func (c *Client) GetBGDL(ctx context.Context, product string) (*bpsv.Document, error) {
	return c.getBPSV(ctx, "v1", "products/"+product+"/bgdl")
}

// GetSummary fetches and parses the `summary` endpoint (no product
// segment: it lists all products and their sequence numbers).
func (c *Client) GetSummary(ctx context.Context) (*bpsv.Document, error) {
	return c.getBPSV(ctx, "v1", "summary")
}

func (c *Client) getBPSV(ctx context.Context, version, endpoint string) (*bpsv.Document, error) {
	body, err := c.GetEndpoint(ctx, version, endpoint)
	if err != nil {
		return nil, err
	}
	doc, err := bpsv.Parse(body)
	if err != nil {
		klog.V(2).Infof("ribbit: %s/%s returned unparseable BPSV: %v", version, endpoint, err)
		return nil, err
	}
	return doc, nil
}

// GetCert fetches the DER-encoded certificate identified by ski (a hex
// Subject Key Identifier), consulting Certs first when set.
func (c *Client) GetCert(ctx context.Context, ski string) ([]byte, error) {
	if c.Certs != nil {
		if data, ok := c.Certs.Get(cache.KindCertificate, ski); ok {
			return data, nil
		}
	}
	body, err := c.rawRequest(ctx, "v1/certs/"+ski)
	if err != nil {
		return nil, err
	}
	der, err := decodePEMOrDER(body)
	if err != nil {
		return nil, err
	}
	if c.Certs != nil {
		if err := c.Certs.Set(cache.KindCertificate, ski, der); err != nil {
			klog.V(3).Infof("ribbit: failed to cache certificate %s: %v", ski, err)
		}
	}
	return der, nil
}
