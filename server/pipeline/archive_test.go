package pipeline

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"testing"

	kitlog "github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vriskhq/vrisk/server/mock"
	"github.com/vriskhq/vrisk/server/vrisk"
)

func buildZip(t *testing.T, entries map[string][]byte) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return bytes.NewReader(buf.Bytes())
}

func gzipped(t *testing.T, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write(content)
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func TestClassifyEntry(t *testing.T) {
	cases := []struct {
		name string
		kind feedKind
		ok   bool
	}{
		{"epss_scores-current.csv.gz", feedEPSS, true},
		{"feeds/files_exploits.csv", feedExploitDB, true},
		{"modules_metadata_base.json", feedMetasploit, true},
		{"nvdcve-2.0-2024.json", feedCVE, true},
		{"cve_meta.json", feedCVE, true},
		{".DS_Store", "", false},
		{"readme.txt", "", false},
	}
	for _, c := range cases {
		kind, ok := classifyEntry(c.name)
		assert.Equal(t, c.ok, ok, c.name)
		assert.Equal(t, c.kind, kind, c.name)
	}
}

func TestImportArchive(t *testing.T) {
	epss := []byte("cve,epss,percentile\nCVE-2021-44228,0.97565,0.99991\nCVE-2017-0144,0.97207,0.99858\n")
	msf := []byte(`{"exploit/windows/smb/ms17_010_eternalblue": {
  "name": "MS17-010 EternalBlue",
  "fullname": "exploit/windows/smb/ms17_010_eternalblue",
  "rank": 500,
  "type": "exploit",
  "references": ["CVE-2017-0144"]
}}`)

	r := buildZip(t, map[string][]byte{
		"epss_scores-current.csv.gz": gzipped(t, epss),
		"modules_metadata_base.json": msf,
		"notes/readme.txt":           []byte("not a feed"),
	})

	ds := new(mock.Store)
	ds.InsertEPSSScoresFunc = func(ctx context.Context, scores []vrisk.EPSSScore) error {
		assert.Len(t, scores, 2)
		return nil
	}
	ds.InsertMetasploitModulesFunc = func(ctx context.Context, modules []vrisk.MetasploitModule, links []vrisk.MetasploitModuleCVE) error {
		assert.Len(t, modules, 1)
		return nil
	}

	p := New(ds, kitlog.NewNopLogger())
	res, err := p.ImportArchive(context.Background(), r, r.Size(), RunOptions{})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 3, res.TotalRecords)
	assert.ElementsMatch(t, []string{"epss", "metasploit"}, res.DatabasesImported)
	assert.Len(t, res.Details, 2)
}

func TestImportArchiveCancelled(t *testing.T) {
	epss := []byte("cve,epss,percentile\nCVE-2021-44228,0.97565,0.99991\n")

	r := buildZip(t, map[string][]byte{
		"epss_scores-current.csv": epss,
	})

	ds := new(mock.Store)

	p := New(ds, kitlog.NewNopLogger())
	res, err := p.ImportArchive(context.Background(), r, r.Size(), RunOptions{
		Cancelled: func() bool { return true },
	})
	require.NoError(t, err)

	// Cancellation is observed before each entry, so nothing lands.
	assert.True(t, res.Cancelled)
	assert.Equal(t, 0, res.TotalRecords)
	assert.False(t, ds.InsertEPSSScoresFuncInvoked)
}

func TestImportArchiveBadEntryContinues(t *testing.T) {
	epss := []byte("cve,epss,percentile\nCVE-2021-44228,0.97565,0.99991\n")

	r := buildZip(t, map[string][]byte{
		"nvd_feed.json":           []byte("{broken json"),
		"epss_scores-current.csv": epss,
	})

	ds := new(mock.Store)
	ds.InsertEPSSScoresFunc = func(ctx context.Context, scores []vrisk.EPSSScore) error {
		return nil
	}

	p := New(ds, kitlog.NewNopLogger())
	res, err := p.ImportArchive(context.Background(), r, r.Size(), RunOptions{})

	// The malformed entry is reported, the valid one still lands.
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.TotalRecords)
	assert.Contains(t, res.DatabasesImported, "epss")

	var badDetail *vrisk.ArchiveImportDetail
	for i := range res.Details {
		if res.Details[i].Database == "cve" {
			badDetail = &res.Details[i]
		}
	}
	require.NotNil(t, badDetail)
	assert.NotEmpty(t, badDetail.Error)
}
