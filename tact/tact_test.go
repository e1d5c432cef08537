package tact

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wowemulation-dev/ngdp/internal/ngdperr"
)

const versionsFixture = "Region!STRING:0|BuildConfig!HEX:16|CDNConfig!HEX:16|KeyRing!HEX:16|BuildId!DEC:4|VersionsName!STRING:0|ProductConfig!HEX:16\n" +
	"us|aa11aa11aa11aa11aa11aa11aa11aa11|bb22bb22bb22bb22bb22bb22bb22bb22|cc33cc33cc33cc33cc33cc33cc33cc33|61582|1.15.7.61582|dd44dd44dd44dd44dd44dd44dd44dd44\n"

const cdnsFixture = "Name!STRING:0|Path!STRING:0|Hosts!STRING:0|Servers!STRING:0|ConfigPath!STRING:0\n" +
	"us|tpr/wow|level3.blizzard.com edgecast.blizzard.com|http://level3.blizzard.com/|tpr/configs/data\n"

const summaryFixture = "Product!STRING:0|Seqn!DEC:10|Flags!STRING:0\n" +
	"wow_classic_era|2001234|\n"

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c := NewClient(srv.Client(), "us")
	c.Scheme = "http"
	c.Host = strings.TrimPrefix(srv.URL, "http://")
	return c
}

func TestGetVersionsDecodesRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/products/wow_classic_era/versions", r.URL.Path)
		w.Write([]byte(versionsFixture))
	}))
	defer srv.Close()

	rows, err := testClient(t, srv).GetVersions(context.Background(), "wow_classic_era")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "us", rows[0].Region)
	require.Equal(t, uint32(61582), rows[0].BuildID)
	require.Equal(t, "1.15.7.61582", rows[0].VersionsName)
}

func TestGetCDNsDecodesMirrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(cdnsFixture))
	}))
	defer srv.Close()

	rows, err := testClient(t, srv).GetCDNs(context.Background(), "wow_classic_era")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	mirrors := rows[0].Mirrors()
	require.Len(t, mirrors, 2)
	require.Equal(t, "level3.blizzard.com", mirrors[0].Host)
	require.Equal(t, "tpr/wow", mirrors[0].Path)
}

func TestSummaryDecodesRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(summaryFixture))
	}))
	defer srv.Close()

	rows, err := testClient(t, srv).Summary(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "wow_classic_era", rows[0].Product)
	require.Equal(t, uint32(2001234), rows[0].Seqn)
}

func TestGetEndpointSurfacesMissingAs404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient(t, srv).GetEndpoint(context.Background(), "wow_classic_era", "versions")
	require.Error(t, err)
	var missing *ngdperr.Missing
	require.ErrorAs(t, err, &missing)
}
