package mysql

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vriskhq/vrisk/server/contexts/ctxerr"
	"github.com/vriskhq/vrisk/server/vrisk"
)

func (ds *Datastore) InsertCVEMeta(ctx context.Context, meta []vrisk.CVEMeta) error {
	query := `
INSERT INTO cve_meta (
    cve_id, description,
    cvss_v3_base_score, cvss_v3_base_severity, cvss_v3_attack_vector,
    cvss_v3_privileges_required, cvss_v3_user_interaction,
    cvss_v2_base_score, cvss_v2_access_vector, cvss_v2_access_complexity,
    cvss_v2_authentication,
    exploitability_score, impact_score,
    published_date, last_modified_date
)
VALUES %s
ON DUPLICATE KEY UPDATE
    description = VALUES(description),
    cvss_v3_base_score = VALUES(cvss_v3_base_score),
    cvss_v3_base_severity = VALUES(cvss_v3_base_severity),
    cvss_v3_attack_vector = VALUES(cvss_v3_attack_vector),
    cvss_v3_privileges_required = VALUES(cvss_v3_privileges_required),
    cvss_v3_user_interaction = VALUES(cvss_v3_user_interaction),
    cvss_v2_base_score = VALUES(cvss_v2_base_score),
    cvss_v2_access_vector = VALUES(cvss_v2_access_vector),
    cvss_v2_access_complexity = VALUES(cvss_v2_access_complexity),
    cvss_v2_authentication = VALUES(cvss_v2_authentication),
    exploitability_score = VALUES(exploitability_score),
    impact_score = VALUES(impact_score),
    published_date = VALUES(published_date),
    last_modified_date = VALUES(last_modified_date)
`

	for i := 0; i < len(meta); i += defaultBatchSize {
		end := i + defaultBatchSize
		if end > len(meta) {
			end = len(meta)
		}
		batch := meta[i:end]

		var args []interface{}
		for _, m := range batch {
			args = append(args, m.CVE, m.Description,
				m.CVSSV3BaseScore, m.CVSSV3BaseSeverity, m.CVSSV3AttackVector,
				m.CVSSV3PrivilegesRequired, m.CVSSV3UserInteraction,
				m.CVSSV2BaseScore, m.CVSSV2AccessVector, m.CVSSV2AccessComplexity,
				m.CVSSV2Authentication,
				m.ExploitabilityScore, m.ImpactScore,
				m.PublishedDate, m.LastModifiedDate)
		}

		stmt := fmt.Sprintf(query, batchPlaceholders(len(batch), 15))
		if err := ds.withRetryTxx(ctx, func(tx sqlx.ExtContext) error {
			_, err := tx.ExecContext(ctx, stmt, args...)
			return err
		}); err != nil {
			return ctxerr.Wrap(ctx, err, "insert cve meta")
		}
	}
	return nil
}

func (ds *Datastore) InsertEPSSScores(ctx context.Context, scores []vrisk.EPSSScore) error {
	query := `
INSERT INTO epss_scores (cve, epss, percentile, date)
VALUES %s
ON DUPLICATE KEY UPDATE
    epss = VALUES(epss),
    percentile = VALUES(percentile),
    date = VALUES(date)
`

	for i := 0; i < len(scores); i += defaultBatchSize {
		end := i + defaultBatchSize
		if end > len(scores) {
			end = len(scores)
		}
		batch := scores[i:end]

		var args []interface{}
		for _, s := range batch {
			args = append(args, s.CVE, s.EPSS, s.Percentile, s.Date)
		}

		stmt := fmt.Sprintf(query, batchPlaceholders(len(batch), 4))
		if err := ds.withRetryTxx(ctx, func(tx sqlx.ExtContext) error {
			_, err := tx.ExecContext(ctx, stmt, args...)
			return err
		}); err != nil {
			return ctxerr.Wrap(ctx, err, "insert epss scores")
		}
	}
	return nil
}

// InsertExploits upserts catalogue entries and their CVE links. Links are
// written last so ExploitInfoByCVEs never sees a link without its entry.
func (ds *Datastore) InsertExploits(ctx context.Context, exploits []vrisk.Exploit, links []vrisk.ExploitCVE) error {
	entryQuery := `
INSERT INTO exploits (
    exploit_id, file, description, date_published, author, type, platform, port, verified
)
VALUES %s
ON DUPLICATE KEY UPDATE
    file = VALUES(file),
    description = VALUES(description),
    date_published = VALUES(date_published),
    author = VALUES(author),
    type = VALUES(type),
    platform = VALUES(platform),
    port = VALUES(port),
    verified = VALUES(verified)
`

	for i := 0; i < len(exploits); i += defaultBatchSize {
		end := i + defaultBatchSize
		if end > len(exploits) {
			end = len(exploits)
		}
		batch := exploits[i:end]

		var args []interface{}
		for _, e := range batch {
			args = append(args, e.ExploitID, e.File, e.Description, e.DatePublished,
				e.Author, e.Type, e.Platform, e.Port, e.Verified)
		}

		stmt := fmt.Sprintf(entryQuery, batchPlaceholders(len(batch), 9))
		if err := ds.withRetryTxx(ctx, func(tx sqlx.ExtContext) error {
			_, err := tx.ExecContext(ctx, stmt, args...)
			return err
		}); err != nil {
			return ctxerr.Wrap(ctx, err, "insert exploits")
		}
	}

	linkQuery := `INSERT IGNORE INTO exploit_cves (cve, exploit_id) VALUES %s`
	for i := 0; i < len(links); i += defaultBatchSize {
		end := i + defaultBatchSize
		if end > len(links) {
			end = len(links)
		}
		batch := links[i:end]

		var args []interface{}
		for _, l := range batch {
			args = append(args, l.CVE, l.ExploitID)
		}

		stmt := fmt.Sprintf(linkQuery, batchPlaceholders(len(batch), 2))
		if err := ds.withRetryTxx(ctx, func(tx sqlx.ExtContext) error {
			_, err := tx.ExecContext(ctx, stmt, args...)
			return err
		}); err != nil {
			return ctxerr.Wrap(ctx, err, "insert exploit cve links")
		}
	}
	return nil
}

func (ds *Datastore) InsertMetasploitModules(ctx context.Context, modules []vrisk.MetasploitModule, links []vrisk.MetasploitModuleCVE) error {
	moduleQuery := "INSERT INTO metasploit_modules (" +
		"module_name, name, fullname, `rank`, rank_text, disclosure_date, type, description, `references`" +
		`)
VALUES %s
ON DUPLICATE KEY UPDATE
    name = VALUES(name),
    fullname = VALUES(fullname),
    ` + "`rank` = VALUES(`rank`)," + `
    rank_text = VALUES(rank_text),
    disclosure_date = VALUES(disclosure_date),
    type = VALUES(type),
    description = VALUES(description),
    ` + "`references` = VALUES(`references`)"

	for i := 0; i < len(modules); i += defaultBatchSize {
		end := i + defaultBatchSize
		if end > len(modules) {
			end = len(modules)
		}
		batch := modules[i:end]

		var args []interface{}
		for _, m := range batch {
			args = append(args, m.ModuleName, m.Name, m.Fullname, m.Rank, m.RankText,
				m.DisclosureDate, m.Type, m.Description, m.References)
		}

		stmt := fmt.Sprintf(moduleQuery, batchPlaceholders(len(batch), 9))
		if err := ds.withRetryTxx(ctx, func(tx sqlx.ExtContext) error {
			_, err := tx.ExecContext(ctx, stmt, args...)
			return err
		}); err != nil {
			return ctxerr.Wrap(ctx, err, "insert metasploit modules")
		}
	}

	linkQuery := `INSERT IGNORE INTO metasploit_module_cves (module_name, cve) VALUES %s`
	for i := 0; i < len(links); i += defaultBatchSize {
		end := i + defaultBatchSize
		if end > len(links) {
			end = len(links)
		}
		batch := links[i:end]

		var args []interface{}
		for _, l := range batch {
			args = append(args, l.ModuleName, l.CVE)
		}

		stmt := fmt.Sprintf(linkQuery, batchPlaceholders(len(batch), 2))
		if err := ds.withRetryTxx(ctx, func(tx sqlx.ExtContext) error {
			_, err := tx.ExecContext(ctx, stmt, args...)
			return err
		}); err != nil {
			return ctxerr.Wrap(ctx, err, "insert metasploit cve links")
		}
	}
	return nil
}

func (ds *Datastore) EPSSByCVEs(ctx context.Context, cves []string) (map[string]vrisk.EPSSScore, error) {
	result := make(map[string]vrisk.EPSSScore, len(cves))
	for i := 0; i < len(cves); i += defaultBatchSize {
		end := i + defaultBatchSize
		if end > len(cves) {
			end = len(cves)
		}
		batch := cves[i:end]

		query := `SELECT cve, epss, percentile, date FROM epss_scores WHERE cve IN (` + inPlaceholders(len(batch)) + `)`
		var rows []vrisk.EPSSScore
		if err := sqlx.SelectContext(ctx, ds.reader, &rows, query, stringArgs(batch)...); err != nil {
			return nil, ctxerr.Wrap(ctx, err, "select epss scores by cve")
		}
		for _, r := range rows {
			result[r.CVE] = r
		}
	}
	return result, nil
}

func (ds *Datastore) CVEMetaByCVEs(ctx context.Context, cves []string) (map[string]vrisk.CVEMeta, error) {
	result := make(map[string]vrisk.CVEMeta, len(cves))
	for i := 0; i < len(cves); i += defaultBatchSize {
		end := i + defaultBatchSize
		if end > len(cves) {
			end = len(cves)
		}
		batch := cves[i:end]

		query := `SELECT * FROM cve_meta WHERE cve_id IN (` + inPlaceholders(len(batch)) + `)`
		var rows []vrisk.CVEMeta
		if err := sqlx.SelectContext(ctx, ds.reader, &rows, query, stringArgs(batch)...); err != nil {
			return nil, ctxerr.Wrap(ctx, err, "select cve meta by cve")
		}
		for _, r := range rows {
			result[r.CVE] = r
		}
	}
	return result, nil
}

// ExploitInfoByCVEs aggregates catalogue entries per CVE. The representative
// type comes from the verified entry with the latest publication date, so a
// proven exploit outranks an unverified PoC.
func (ds *Datastore) ExploitInfoByCVEs(ctx context.Context, cves []string) (map[string]vrisk.ExploitInfo, error) {
	result := make(map[string]vrisk.ExploitInfo, len(cves))
	for i := 0; i < len(cves); i += defaultBatchSize {
		end := i + defaultBatchSize
		if end > len(cves) {
			end = len(cves)
		}
		batch := cves[i:end]

		query := `
SELECT ec.cve,
    SUBSTRING_INDEX(GROUP_CONCAT(e.type ORDER BY e.verified DESC, e.date_published DESC SEPARATOR 0x1f), 0x1f, 1) AS type,
    COUNT(*) AS count,
    MAX(e.date_published) AS last_exploit_date
FROM exploit_cves ec
JOIN exploits e ON e.exploit_id = ec.exploit_id
WHERE ec.cve IN (` + inPlaceholders(len(batch)) + `)
GROUP BY ec.cve`

		var rows []vrisk.ExploitInfo
		if err := sqlx.SelectContext(ctx, ds.reader, &rows, query, stringArgs(batch)...); err != nil {
			return nil, ctxerr.Wrap(ctx, err, "select exploit info by cve")
		}
		for _, r := range rows {
			result[r.CVE] = r
		}
	}
	return result, nil
}

// MetasploitRankByCVEs returns the highest module rank per CVE.
func (ds *Datastore) MetasploitRankByCVEs(ctx context.Context, cves []string) (map[string]int, error) {
	result := make(map[string]int, len(cves))
	for i := 0; i < len(cves); i += defaultBatchSize {
		end := i + defaultBatchSize
		if end > len(cves) {
			end = len(cves)
		}
		batch := cves[i:end]

		query := "SELECT mc.cve, MAX(m.`rank`) AS `rank` " +
			`FROM metasploit_module_cves mc
JOIN metasploit_modules m ON m.module_name = mc.module_name
WHERE mc.cve IN (` + inPlaceholders(len(batch)) + `)
GROUP BY mc.cve`

		var rows []struct {
			CVE  string `db:"cve"`
			Rank int    `db:"rank"`
		}
		if err := sqlx.SelectContext(ctx, ds.reader, &rows, query, stringArgs(batch)...); err != nil {
			return nil, ctxerr.Wrap(ctx, err, "select metasploit ranks by cve")
		}
		for _, r := range rows {
			result[r.CVE] = r.Rank
		}
	}
	return result, nil
}

func (ds *Datastore) FeedCounts(ctx context.Context) (vrisk.FeedCounts, error) {
	query := `
SELECT
    (SELECT COUNT(*) FROM epss_scores) AS epss,
    (SELECT COUNT(*) FROM exploits) AS exploitdb,
    (SELECT COUNT(*) FROM cve_meta) AS cve,
    (SELECT COUNT(*) FROM metasploit_modules) AS metasploit,
    (SELECT COUNT(*) FROM hosts) AS hosts`

	var counts struct {
		EPSS       int `db:"epss"`
		ExploitDB  int `db:"exploitdb"`
		CVE        int `db:"cve"`
		Metasploit int `db:"metasploit"`
		Hosts      int `db:"hosts"`
	}
	if err := sqlx.GetContext(ctx, ds.reader, &counts, query); err != nil {
		return vrisk.FeedCounts{}, ctxerr.Wrap(ctx, err, "count feed tables")
	}
	return vrisk.FeedCounts{
		EPSS:       counts.EPSS,
		ExploitDB:  counts.ExploitDB,
		CVE:        counts.CVE,
		Metasploit: counts.Metasploit,
		Hosts:      counts.Hosts,
	}, nil
}

func stringArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
