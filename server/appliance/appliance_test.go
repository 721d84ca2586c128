package appliance

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vriskhq/vrisk/server/config"
	"github.com/vriskhq/vrisk/server/ptr"
	"github.com/vriskhq/vrisk/server/vrisk"
)

func testConfig(address string) config.ApplianceConfig {
	return config.ApplianceConfig{
		Address:       address,
		Username:      "operator",
		Password:      "hunter2",
		ClientID:      "mpx",
		ClientSecret:  "s3cret",
		TokenTimeout:  30 * time.Second,
		ExportTimeout: 300 * time.Second,
	}
}

func TestExportCSV(t *testing.T) {
	var sawPDQL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/connect/token":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "operator", r.PostForm.Get("username"))
			assert.Equal(t, "password", r.PostForm.Get("grant_type"))
			assert.Equal(t, "mpx", r.PostForm.Get("client_id"))
			w.Write([]byte(`{"access_token":"tok-123"}`))
		case "/api/assets_temporal_readmodel/v1/assets_grid":
			assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
			body, _ := io.ReadAll(r.Body)
			sawPDQL = string(body)
			w.Write([]byte(`{"token":"pdql-token-456"}`))
		case "/api/assets_temporal_readmodel/v1/assets_grid/export":
			assert.Equal(t, "pdql-token-456", r.URL.Query().Get("pdqlToken"))
			w.Write([]byte("@Host;Host.@Vulners.CVEs\nsrv-01 (10.0.0.1);CVE-2023-0001\n"))
		default:
			t.Errorf("unexpected request path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL), kitlog.NewNopLogger())
	require.NoError(t, err)

	body, err := client.ExportCSV(context.Background(), BuildPDQL([]string{"Cisco IOS"}, 1000))
	require.NoError(t, err)
	defer body.Close()

	csv, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(csv), "srv-01 (10.0.0.1)")
	assert.Contains(t, sawPDQL, `Cisco IOS`)
	assert.Contains(t, sawPDQL, "limit(1000)")
}

// Token failures must not leak credentials into the error.
func TestExportCSVTokenError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL), kitlog.NewNopLogger())
	require.NoError(t, err)

	_, err = client.ExportCSV(context.Background(), BuildPDQL(nil, 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.NotContains(t, err.Error(), "hunter2")
	assert.NotContains(t, err.Error(), "s3cret")
}

func TestNewClientRequiresAddress(t *testing.T) {
	_, err := NewClient(config.ApplianceConfig{}, kitlog.NewNopLogger())
	require.Error(t, err)
}

func TestBuildPDQL(t *testing.T) {
	pdql := BuildPDQL(nil, 0)
	assert.Contains(t, pdql, "select(@Host")
	assert.NotContains(t, pdql, "filter")
	assert.NotContains(t, pdql, "limit")

	pdql = BuildPDQL([]string{"Cisco IOS", "JunOS"}, 50000)
	assert.Contains(t, pdql, `filter(not (Host.OsName in ["Cisco IOS", "JunOS"]))`)
	assert.Contains(t, pdql, "limit(50000)")
}

func TestDumpRoundtrip(t *testing.T) {
	dir := t.TempDir()
	hosts := []vrisk.Host{
		{Hostname: "srv-01", IP: "10.0.0.1", CVE: "CVE-2023-0001", Criticality: vrisk.CriticalityHigh, OSName: ptr.String("Ubuntu"), Zone: ptr.String("DMZ")},
		{Hostname: "srv-02", IP: "10.0.0.2", CVE: "CVE-2023-0002", Criticality: vrisk.CriticalityLow, OSName: ptr.String("Windows Server")},
	}

	path, err := SaveDump(context.Background(), dir, hosts, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Contains(t, path, "vm_data_20240315_100000.json")

	// a later dump shadows the earlier one
	_, err = SaveDump(context.Background(), dir, hosts[:1], time.Date(2024, 3, 16, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	loaded, loadedPath, err := LatestDump(context.Background(), dir)
	require.NoError(t, err)
	assert.Contains(t, loadedPath, "vm_data_20240316_100000.json")
	require.Len(t, loaded, 1)
	assert.Equal(t, "srv-01", loaded[0].Hostname)
}

func TestLatestDumpMissing(t *testing.T) {
	_, _, err := LatestDump(context.Background(), t.TempDir())
	require.Error(t, err)
}

func TestFilterDump(t *testing.T) {
	hosts := []vrisk.Host{
		{Hostname: "a", CVE: "CVE-2023-0001", Criticality: vrisk.CriticalityHigh, OSName: ptr.String("Ubuntu"), Zone: ptr.String("DMZ")},
		{Hostname: "b", CVE: "CVE-2023-0002", Criticality: vrisk.CriticalityLow, OSName: ptr.String("Windows Server"), Zone: ptr.String("LAN")},
		{Hostname: "c", CVE: "CVE-2023-0003", Criticality: vrisk.CriticalityHigh},
	}

	out := FilterDump(hosts, vrisk.ManualImportFilters{})
	assert.Len(t, out, 3)

	out = FilterDump(hosts, vrisk.ManualImportFilters{CriticalityFilter: []string{"high"}})
	assert.Len(t, out, 2)

	out = FilterDump(hosts, vrisk.ManualImportFilters{OSFilter: []string{"ubuntu"}})
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].Hostname)

	// hosts with no zone never match a zone filter
	out = FilterDump(hosts, vrisk.ManualImportFilters{ZoneFilter: []string{"dmz"}})
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].Hostname)
}
