package pipeline

import (
	"context"
	"strings"
	"testing"

	kitlog "github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vriskhq/vrisk/server/mock"
	"github.com/vriskhq/vrisk/server/vrisk"
)

const epssCSV = `#model_version:v2023.03.01,score_date:2024-01-15
cve,epss,percentile
CVE-2021-44228,0.97565,0.99991
CVE-2014-0160,0.97384,0.99927
CVE-2017-0144,0.97207,0.99858
not-a-cve,0.5,0.5
CVE-2019-0708,0.96914,0.99668
CVE-2020-1472,0.96782,0.99601
`

func TestImportEPSSBatching(t *testing.T) {
	ds := new(mock.Store)
	var batches [][]vrisk.EPSSScore
	ds.InsertEPSSScoresFunc = func(ctx context.Context, scores []vrisk.EPSSScore) error {
		batch := make([]vrisk.EPSSScore, len(scores))
		copy(batch, scores)
		batches = append(batches, batch)
		return nil
	}

	var progress []int
	p := New(ds, kitlog.NewNopLogger(), WithBatchSize(2))
	res, err := p.ImportEPSS(context.Background(), strings.NewReader(epssCSV), 0, RunOptions{
		Progress: func(processed, total int, step string) {
			progress = append(progress, processed)
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 5, res.Inserted)
	assert.Equal(t, 1, res.Skipped)
	assert.False(t, res.Cancelled)

	// 5 rows at batch size 2 means two full batches and a final partial.
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 2)
	assert.Len(t, batches[2], 1)
	assert.Equal(t, "CVE-2021-44228", batches[0][0].CVE)
	assert.Equal(t, 0.97565, batches[0][0].EPSS)
	assert.Equal(t, []int{2, 4, 5}, progress)
}

func TestImportEPSSCancelled(t *testing.T) {
	ds := new(mock.Store)
	inserted := 0
	ds.InsertEPSSScoresFunc = func(ctx context.Context, scores []vrisk.EPSSScore) error {
		inserted += len(scores)
		return nil
	}

	p := New(ds, kitlog.NewNopLogger(), WithBatchSize(2))
	res, err := p.ImportEPSS(context.Background(), strings.NewReader(epssCSV), 0, RunOptions{
		Cancelled: func() bool { return true },
	})
	require.NoError(t, err)

	// The first batch is committed before the cancel flag is observed.
	assert.True(t, res.Cancelled)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 2, inserted)
}

func TestImportExploitDBMinimal(t *testing.T) {
	csv := `cve,exploit_id
CVE-2021-44228,50592
CVE-2021-44228,50590
CVE-2017-0144,42315
bogus,1
`
	ds := new(mock.Store)
	var gotExploits []vrisk.Exploit
	var gotLinks []vrisk.ExploitCVE
	ds.InsertExploitsFunc = func(ctx context.Context, exploits []vrisk.Exploit, links []vrisk.ExploitCVE) error {
		gotExploits = append(gotExploits, exploits...)
		gotLinks = append(gotLinks, links...)
		return nil
	}
	var refreshed []string
	ds.RefreshHostExploitStatsFunc = func(ctx context.Context, cves []string) error {
		refreshed = cves
		return nil
	}

	p := New(ds, kitlog.NewNopLogger())
	res, err := p.ImportExploitDB(context.Background(), strings.NewReader(csv), 0, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, gotExploits, 3)
	assert.Equal(t, uint(50592), gotExploits[0].ExploitID)
	require.Len(t, gotLinks, 3)
	assert.Equal(t, vrisk.ExploitCVE{CVE: "CVE-2021-44228", ExploitID: 50592}, gotLinks[0])

	// The stats refresh sees each touched CVE once.
	assert.Equal(t, []string{"CVE-2021-44228", "CVE-2017-0144"}, refreshed)
	assert.True(t, ds.RefreshHostExploitStatsFuncInvoked)
}

func TestImportMetasploit(t *testing.T) {
	feed := `{
  "exploit/windows/smb/ms17_010_eternalblue": {
    "name": "MS17-010 EternalBlue",
    "fullname": "exploit/windows/smb/ms17_010_eternalblue",
    "rank": 500,
    "disclosure_date": "2017-03-14",
    "type": "exploit",
    "description": "SMBv1 buffer overflow",
    "references": ["CVE-2017-0144", "CVE-2017-0143", "MSB,MS17-010"]
  },
  "mangled": {"name": "no fullname"}
}`
	ds := new(mock.Store)
	var gotModules []vrisk.MetasploitModule
	var gotLinks []vrisk.MetasploitModuleCVE
	ds.InsertMetasploitModulesFunc = func(ctx context.Context, modules []vrisk.MetasploitModule, links []vrisk.MetasploitModuleCVE) error {
		gotModules = append(gotModules, modules...)
		gotLinks = append(gotLinks, links...)
		return nil
	}

	p := New(ds, kitlog.NewNopLogger())
	res, err := p.ImportMetasploit(context.Background(), strings.NewReader(feed), 0, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, gotModules, 1)
	assert.Equal(t, 500, gotModules[0].Rank)
	assert.Equal(t, "good", gotModules[0].RankText)
	require.Len(t, gotLinks, 2)
	assert.Equal(t, "CVE-2017-0144", gotLinks[0].CVE)
	assert.Equal(t, "CVE-2017-0143", gotLinks[1].CVE)
}

func TestImportHosts(t *testing.T) {
	csv := "@Host;Host.@Vulners.CVEs;Host.UF_Criticality;Host.UF_Zone;Host.OsName\n" +
		"web01 (10.0.0.5);CVE-2021-44228,CVE-2017-0144;High;DMZ;Ubuntu 20.04\n" +
		"db01 (10.0.0.9);CVE-2021-44228;Critical;Internal;CentOS 7\n" +
		"printer (10.0.0.77);;Low;Internal;Embedded\n"

	ds := new(mock.Store)
	var got []vrisk.Host
	ds.UpsertHostsFunc = func(ctx context.Context, hosts []vrisk.Host) error {
		got = append(got, hosts...)
		return nil
	}

	p := New(ds, kitlog.NewNopLogger())
	res, cves, err := p.ImportHosts(context.Background(), strings.NewReader(csv), 0, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, 1, res.Skipped) // printer row has no valid CVE
	require.Len(t, got, 3)
	assert.Equal(t, "web01", got[0].Hostname)
	assert.Equal(t, "10.0.0.5", got[0].IP)
	assert.Equal(t, "CVE-2021-44228", got[0].CVE)
	assert.Equal(t, vrisk.CriticalityHigh, got[0].Criticality)
	assert.Equal(t, []string{"CVE-2021-44228", "CVE-2017-0144"}, cves)
}

func TestImportHostsProgressInSourceLines(t *testing.T) {
	// One data line fanning out to three (host, CVE) rows. Progress must
	// stay in source lines so processed never exceeds the line-count total.
	csv := "@Host;Host.@Vulners.CVEs;Host.UF_Criticality\n" +
		"web01 (10.0.0.5);CVE-2021-44228,CVE-2017-0144,CVE-2020-1472;High\n"

	ds := new(mock.Store)
	ds.UpsertHostsFunc = func(ctx context.Context, hosts []vrisk.Host) error {
		return nil
	}

	const total = 1
	var progress []int
	p := New(ds, kitlog.NewNopLogger(), WithBatchSize(1))
	res, _, err := p.ImportHosts(context.Background(), strings.NewReader(csv), total, RunOptions{
		Progress: func(processed, tot int, step string) {
			progress = append(progress, processed)
			require.LessOrEqual(t, processed, tot)
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Inserted)
	require.NotEmpty(t, progress)
	for _, processed := range progress {
		assert.LessOrEqual(t, processed, total)
	}
}

func TestImportHostList(t *testing.T) {
	hosts := []vrisk.Host{
		{Hostname: "a", IP: "10.0.0.1", CVE: "CVE-2020-1472"},
		{Hostname: "b", IP: "10.0.0.2", CVE: "CVE-2020-1472"},
		{Hostname: "c", IP: "10.0.0.3", CVE: "CVE-2019-0708"},
	}

	ds := new(mock.Store)
	var batchSizes []int
	ds.UpsertHostsFunc = func(ctx context.Context, batch []vrisk.Host) error {
		batchSizes = append(batchSizes, len(batch))
		return nil
	}

	p := New(ds, kitlog.NewNopLogger(), WithBatchSize(2))
	res, cves, err := p.ImportHostList(context.Background(), hosts, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, []int{2, 1}, batchSizes)
	assert.Equal(t, []string{"CVE-2020-1472", "CVE-2019-0708"}, cves)
}

func TestImportCVE(t *testing.T) {
	feed := `{
  "resultsPerPage": 2,
  "vulnerabilities": [
    {"cve": {
      "id": "CVE-2021-44228",
      "descriptions": [{"lang": "en", "value": "Log4j JNDI lookup RCE"}],
      "metrics": {"cvssMetricV31": [{"cvssData": {"baseScore": 10.0, "baseSeverity": "CRITICAL", "attackVector": "NETWORK"}}]},
      "published": "2021-12-10T10:15:09.143"
    }},
    {"cve": {"id": "not-a-cve"}}
  ]
}`
	ds := new(mock.Store)
	var got []vrisk.CVEMeta
	ds.InsertCVEMetaFunc = func(ctx context.Context, meta []vrisk.CVEMeta) error {
		got = append(got, meta...)
		return nil
	}

	p := New(ds, kitlog.NewNopLogger())
	res, err := p.ImportCVE(context.Background(), strings.NewReader(feed), 0, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, got, 1)
	assert.Equal(t, "CVE-2021-44228", got[0].CVE)
	require.NotNil(t, got[0].CVSSV3BaseScore)
	assert.Equal(t, 10.0, *got[0].CVSSV3BaseScore)
}
