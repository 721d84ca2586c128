package mysql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"

	"github.com/vriskhq/vrisk/server/contexts/ctxerr"
	"github.com/vriskhq/vrisk/server/vrisk"
)

// UpsertHosts batch-inserts host rows, overwriting on the (hostname, ip,
// cve) natural key. Re-imports are idempotent.
func (ds *Datastore) UpsertHosts(ctx context.Context, hosts []vrisk.Host) error {
	query := `
INSERT INTO hosts (
    hostname, ip, cve, cvss, criticality, os_name, zone, status,
    confidential_data, internet_access, imported_at
)
VALUES %s
ON DUPLICATE KEY UPDATE
    cvss = VALUES(cvss),
    criticality = VALUES(criticality),
    os_name = VALUES(os_name),
    zone = VALUES(zone),
    status = VALUES(status),
    confidential_data = VALUES(confidential_data),
    internet_access = VALUES(internet_access),
    imported_at = VALUES(imported_at)
`

	now := ds.clock.Now().UTC()
	for i := 0; i < len(hosts); i += defaultBatchSize {
		end := i + defaultBatchSize
		if end > len(hosts) {
			end = len(hosts)
		}
		batch := hosts[i:end]

		var args []interface{}
		for _, h := range batch {
			importedAt := h.ImportedAt
			if importedAt.IsZero() {
				importedAt = now
			}
			args = append(args, h.Hostname, h.IP, h.CVE, h.CVSS, h.Criticality,
				h.OSName, h.Zone, h.Status, h.ConfidentialData, h.InternetAccess, importedAt)
		}

		stmt := fmt.Sprintf(query, batchPlaceholders(len(batch), 11))
		if err := ds.withRetryTxx(ctx, func(tx sqlx.ExtContext) error {
			_, err := tx.ExecContext(ctx, stmt, args...)
			return err
		}); err != nil {
			return ctxerr.Wrap(ctx, err, "upsert hosts")
		}
	}
	return nil
}

func hostFilterExpressions(filter vrisk.HostListFilter) []goqu.Expression {
	var where []goqu.Expression
	if filter.Hostname != "" {
		where = append(where, goqu.C("hostname").Like("%"+filter.Hostname+"%"))
	}
	if filter.CVE != "" {
		where = append(where, goqu.C("cve").Eq(filter.CVE))
	}
	if filter.Criticality != "" {
		where = append(where, goqu.C("criticality").Eq(string(filter.Criticality)))
	}
	if filter.Zone != "" {
		where = append(where, goqu.C("zone").Eq(filter.Zone))
	}
	if filter.OSName != "" {
		where = append(where, goqu.C("os_name").Like("%"+filter.OSName+"%"))
	}
	if filter.MinRisk != nil {
		where = append(where, goqu.C("risk_score").Gte(*filter.MinRisk))
	}
	return where
}

func (ds *Datastore) CountHosts(ctx context.Context, filter vrisk.HostListFilter) (int, error) {
	sel := dialect.From("hosts").Select(goqu.COUNT("*")).Where(hostFilterExpressions(filter)...)
	query, args, err := sel.ToSQL()
	if err != nil {
		return 0, ctxerr.Wrap(ctx, err, "build count hosts query")
	}

	var count int
	if err := sqlx.GetContext(ctx, ds.reader, &count, query, args...); err != nil {
		return 0, ctxerr.Wrap(ctx, err, "count hosts")
	}
	return count, nil
}

func (ds *Datastore) ListHosts(ctx context.Context, filter vrisk.HostListFilter, opts vrisk.ListOptions) ([]vrisk.Host, error) {
	sel := dialect.From("hosts").Select("*").Where(hostFilterExpressions(filter)...)
	sel = appendListOptionsToSelect(sel, opts)

	query, args, err := sel.ToSQL()
	if err != nil {
		return nil, ctxerr.Wrap(ctx, err, "build list hosts query")
	}

	var hosts []vrisk.Host
	if err := sqlx.SelectContext(ctx, ds.reader, &hosts, query, args...); err != nil {
		return nil, ctxerr.Wrap(ctx, err, "list hosts")
	}
	return hosts, nil
}

// ListHostsAfter is the cursored scan used to stream hosts without
// materializing the full set: keyset pagination on id.
func (ds *Datastore) ListHostsAfter(ctx context.Context, afterID uint, limit int, filter vrisk.HostListFilter) ([]vrisk.Host, error) {
	where := append(hostFilterExpressions(filter), goqu.C("id").Gt(afterID))
	sel := dialect.From("hosts").Select("*").Where(where...).Order(goqu.C("id").Asc()).Limit(uint(limit)) //nolint:gosec // dismiss G115

	query, args, err := sel.ToSQL()
	if err != nil {
		return nil, ctxerr.Wrap(ctx, err, "build host scan query")
	}

	var hosts []vrisk.Host
	if err := sqlx.SelectContext(ctx, ds.reader, &hosts, query, args...); err != nil {
		return nil, ctxerr.Wrap(ctx, err, "scan hosts")
	}
	return hosts, nil
}

// HostCVEsForRecompute returns the distinct CVEs of hosts whose risk data
// is missing or older than since. A nil since selects every distinct CVE.
func (ds *Datastore) HostCVEsForRecompute(ctx context.Context, since *time.Time) ([]string, error) {
	query := `SELECT DISTINCT cve FROM hosts`
	var args []interface{}
	if since != nil {
		query += ` WHERE epss_score IS NULL OR risk_score IS NULL OR risk_updated_at IS NULL OR risk_updated_at < ?`
		args = append(args, *since)
	}

	var cves []string
	if err := sqlx.SelectContext(ctx, ds.reader, &cves, query, args...); err != nil {
		return nil, ctxerr.Wrap(ctx, err, "select host cves for recompute")
	}
	return cves, nil
}

// UpdateHostRisk applies recompute results with one statement per batch: a
// derived table of (id, scores) joined against hosts.
func (ds *Datastore) UpdateHostRisk(ctx context.Context, updates []vrisk.HostRiskUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	now := ds.clock.Now().UTC()
	for i := 0; i < len(updates); i += defaultBatchSize {
		end := i + defaultBatchSize
		if end > len(updates) {
			end = len(updates)
		}
		batch := updates[i:end]

		rows := make([]string, 0, len(batch))
		var args []interface{}
		for _, u := range batch {
			rows = append(rows, "SELECT ? AS id, ? AS epss_score, ? AS epss_percentile, ? AS risk_score, ? AS risk_raw")
			args = append(args, u.HostID, u.EPSSScore, u.EPSSPercentile, u.RiskScore, u.RiskRaw)
		}
		args = append(args, now, now)

		stmt := `
UPDATE hosts h
JOIN (` + strings.Join(rows, " UNION ALL ") + `) u USING (id)
SET h.epss_score = u.epss_score,
    h.epss_percentile = u.epss_percentile,
    h.risk_score = u.risk_score,
    h.risk_raw = u.risk_raw,
    h.epss_updated_at = ?,
    h.risk_updated_at = ?`

		if err := ds.withRetryTxx(ctx, func(tx sqlx.ExtContext) error {
			_, err := tx.ExecContext(ctx, stmt, args...)
			return err
		}); err != nil {
			return ctxerr.Wrap(ctx, err, "update host risk")
		}
	}
	return nil
}

// RefreshHostExploitStats recomputes the exploit columns of hosts whose CVE
// is in the set from the exploit tables, set-valued.
func (ds *Datastore) RefreshHostExploitStats(ctx context.Context, cves []string) error {
	if len(cves) == 0 {
		return nil
	}

	now := ds.clock.Now().UTC()
	for i := 0; i < len(cves); i += defaultBatchSize {
		end := i + defaultBatchSize
		if end > len(cves) {
			end = len(cves)
		}
		batch := cves[i:end]

		args := make([]interface{}, 0, len(batch)+1)
		args = append(args, now)
		for _, cve := range batch {
			args = append(args, cve)
		}

		stmt := `
UPDATE hosts h
LEFT JOIN (
    SELECT ec.cve, COUNT(*) AS cnt, MAX(e.date_published) AS last_date
    FROM exploit_cves ec
    JOIN exploits e ON e.exploit_id = ec.exploit_id
    GROUP BY ec.cve
) x ON x.cve = h.cve
SET h.exploits_count = COALESCE(x.cnt, 0),
    h.has_exploits = x.cnt IS NOT NULL,
    h.last_exploit_date = x.last_date,
    h.exploits_updated_at = ?
WHERE h.cve IN (` + inPlaceholders(len(batch)) + `)`

		if err := ds.withRetryTxx(ctx, func(tx sqlx.ExtContext) error {
			_, err := tx.ExecContext(ctx, stmt, args...)
			return err
		}); err != nil {
			return ctxerr.Wrap(ctx, err, "refresh host exploit stats")
		}
	}
	return nil
}
