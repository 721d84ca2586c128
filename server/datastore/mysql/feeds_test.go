package mysql

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vriskhq/vrisk/server/ptr"
	"github.com/vriskhq/vrisk/server/vrisk"
)

func TestInsertEPSSScores(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO epss_scores (cve, epss, percentile, date) VALUES (?, ?, ?, ?), (?, ?, ?, ?) ON DUPLICATE KEY UPDATE")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := ds.InsertEPSSScores(context.Background(), []vrisk.EPSSScore{
		{CVE: "CVE-2023-0001", EPSS: 0.42, Percentile: 0.9},
		{CVE: "CVE-2023-0002", EPSS: 0.01, Percentile: 0.2},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertCVEMeta(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cve_meta")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := ds.InsertCVEMeta(context.Background(), []vrisk.CVEMeta{
		{CVE: "CVE-2023-0001", Description: "test", CVSSV3BaseScore: ptr.Float64(9.8)},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Catalogue entries land before their CVE links so readers never see a
// dangling link.
func TestInsertExploits(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO exploits")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT IGNORE INTO exploit_cves (cve, exploit_id) VALUES (?, ?), (?, ?)")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := ds.InsertExploits(context.Background(),
		[]vrisk.Exploit{{ExploitID: 1234, Type: ptr.String("remote"), Verified: true}},
		[]vrisk.ExploitCVE{
			{CVE: "CVE-2023-0001", ExploitID: 1234},
			{CVE: "CVE-2023-0002", ExploitID: 1234},
		})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertMetasploitModules(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO metasploit_modules").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT IGNORE INTO metasploit_module_cves")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := ds.InsertMetasploitModules(context.Background(),
		[]vrisk.MetasploitModule{{ModuleName: "exploit/windows/smb/ms17_010_eternalblue", Rank: 500, RankText: "good"}},
		[]vrisk.MetasploitModuleCVE{{ModuleName: "exploit/windows/smb/ms17_010_eternalblue", CVE: "CVE-2017-0144"}})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEPSSByCVEs(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT cve, epss, percentile, date FROM epss_scores WHERE cve IN (?, ?)")).
		WithArgs("CVE-2023-0001", "CVE-2023-0002").
		WillReturnRows(sqlmock.NewRows([]string{"cve", "epss", "percentile", "date"}).
			AddRow("CVE-2023-0001", 0.42, 0.9, nil))

	scores, err := ds.EPSSByCVEs(context.Background(), []string{"CVE-2023-0001", "CVE-2023-0002"})
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, 0.42, scores["CVE-2023-0001"].EPSS)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExploitInfoByCVEs(t *testing.T) {
	ds, mock := mockDatastore(t)

	last := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT ec.cve,").
		WithArgs("CVE-2023-0001").
		WillReturnRows(sqlmock.NewRows([]string{"cve", "type", "count", "last_exploit_date"}).
			AddRow("CVE-2023-0001", "remote", 3, last))

	info, err := ds.ExploitInfoByCVEs(context.Background(), []string{"CVE-2023-0001"})
	require.NoError(t, err)
	require.Len(t, info, 1)
	assert.Equal(t, 3, info["CVE-2023-0001"].Count)
	require.NotNil(t, info["CVE-2023-0001"].Type)
	assert.Equal(t, "remote", *info["CVE-2023-0001"].Type)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMetasploitRankByCVEs(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectQuery("SELECT mc.cve, MAX").
		WithArgs("CVE-2017-0144").
		WillReturnRows(sqlmock.NewRows([]string{"cve", "rank"}).AddRow("CVE-2017-0144", 500))

	ranks, err := ds.MetasploitRankByCVEs(context.Background(), []string{"CVE-2017-0144"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"CVE-2017-0144": 500}, ranks)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFeedCounts(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectQuery("SELECT").
		WillReturnRows(sqlmock.NewRows([]string{"epss", "exploitdb", "cve", "metasploit", "hosts"}).
			AddRow(100, 20, 50, 10, 7))

	counts, err := ds.FeedCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, counts.EPSS)
	assert.Equal(t, 180, counts.Total())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettings(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `key`, `value` FROM settings")).
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}).
			AddRow("impact_criticality_critical", "0.33").
			AddRow("msf_good", "1.1"))

	settings, err := ds.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"impact_criticality_critical": "0.33",
		"msf_good":                    "1.1",
	}, settings)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetSetting(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO settings (`key`, `value`) VALUES (?, ?) ON DUPLICATE KEY UPDATE `value` = VALUES(`value`)")).
		WithArgs("msf_good", "1.2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := ds.SetSetting(context.Background(), "msf_good", "1.2")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
