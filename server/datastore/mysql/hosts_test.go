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

func TestUpsertHosts(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO hosts")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := ds.UpsertHosts(context.Background(), []vrisk.Host{
		{Hostname: "srv-01", IP: "10.0.0.1", CVE: "CVE-2023-0001", Criticality: vrisk.CriticalityHigh, Status: "active"},
		{Hostname: "srv-01", IP: "10.0.0.1", CVE: "CVE-2023-0002", Criticality: vrisk.CriticalityHigh, Status: "active"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertHostsEmpty(t *testing.T) {
	ds, mock := mockDatastore(t)

	require.NoError(t, ds.UpsertHosts(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountHosts(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM `hosts`")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	count, err := ds.CountHosts(context.Background(), vrisk.HostListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 12, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListHostsFilters(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectQuery("SELECT \\* FROM `hosts` WHERE .*`cve` = .*CVE-2023-0001.*`risk_score` >= 80.*").
		WillReturnRows(sqlmock.NewRows([]string{"id", "hostname", "ip", "cve"}).
			AddRow(1, "srv-01", "10.0.0.1", "CVE-2023-0001"))

	hosts, err := ds.ListHosts(context.Background(),
		vrisk.HostListFilter{CVE: "CVE-2023-0001", MinRisk: ptr.Int(80)},
		vrisk.ListOptions{PerPage: 50})
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, "srv-01", hosts[0].Hostname)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListHostsAfter(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectQuery("SELECT \\* FROM `hosts` WHERE .*`id` > 100.* ORDER BY `id` ASC LIMIT 2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "hostname", "ip", "cve"}).
			AddRow(101, "a", "10.0.0.1", "CVE-2023-0001").
			AddRow(102, "b", "10.0.0.2", "CVE-2023-0002"))

	hosts, err := ds.ListHostsAfter(context.Background(), 100, 2, vrisk.HostListFilter{})
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	assert.Equal(t, uint(102), hosts[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHostCVEsForRecompute(t *testing.T) {
	ds, mock := mockDatastore(t)

	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT cve FROM hosts WHERE epss_score IS NULL OR risk_score IS NULL OR risk_updated_at IS NULL OR risk_updated_at < ?")).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"cve"}).AddRow("CVE-2023-0001").AddRow("CVE-2023-0002"))

	cves, err := ds.HostCVEsForRecompute(context.Background(), &since)
	require.NoError(t, err)
	assert.Equal(t, []string{"CVE-2023-0001", "CVE-2023-0002"}, cves)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHostCVEsForRecomputeAll(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT cve FROM hosts")).
		WillReturnRows(sqlmock.NewRows([]string{"cve"}).AddRow("CVE-2023-0001"))

	cves, err := ds.HostCVEsForRecompute(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, cves, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A recompute batch lands as one derived-table UPDATE, not one statement
// per host.
func TestUpdateHostRiskSingleStatement(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE hosts h JOIN \\(SELECT .* UNION ALL SELECT .*\\) u USING \\(id\\)").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := ds.UpdateHostRisk(context.Background(), []vrisk.HostRiskUpdate{
		{HostID: 1, EPSSScore: ptr.Float64(0.42), EPSSPercentile: ptr.Float64(0.9), RiskScore: 73, RiskRaw: 0.7344},
		{HostID: 2, RiskScore: 51, RiskRaw: 0.508},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshHostExploitStats(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE hosts h LEFT JOIN \\(").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := ds.RefreshHostExploitStats(context.Background(), []string{"CVE-2023-0001"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
