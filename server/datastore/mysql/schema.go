package mysql

import (
	"context"

	"github.com/vriskhq/vrisk/server/contexts/ctxerr"
)

// tableDDL holds the schema, applied in order by MigrateTables. Statements
// are idempotent so prepare can be re-run safely.
var tableDDL = []string{
	`CREATE TABLE IF NOT EXISTS hosts (
    id                  INT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
    hostname            VARCHAR(255) NOT NULL,
    ip                  VARCHAR(45) NOT NULL DEFAULT '',
    cve                 VARCHAR(20) NOT NULL,
    cvss                DOUBLE NULL,
    criticality         VARCHAR(16) NOT NULL DEFAULT 'Medium',
    os_name             VARCHAR(255) NULL,
    zone                VARCHAR(255) NULL,
    status              VARCHAR(32) NOT NULL DEFAULT 'active',
    confidential_data   TINYINT(1) NULL,
    internet_access     TINYINT(1) NULL,
    epss_score          DOUBLE NULL,
    epss_percentile     DOUBLE NULL,
    risk_score          INT NULL,
    risk_raw            DOUBLE NULL,
    exploits_count      INT NOT NULL DEFAULT 0,
    has_exploits        TINYINT(1) NOT NULL DEFAULT 0,
    last_exploit_date   DATETIME NULL,
    imported_at         TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    epss_updated_at     TIMESTAMP NULL,
    risk_updated_at     TIMESTAMP NULL,
    exploits_updated_at TIMESTAMP NULL,
    UNIQUE KEY idx_hosts_host_cve (hostname, ip, cve),
    KEY idx_hosts_cve (cve),
    KEY idx_hosts_risk_score (risk_score)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS cve_meta (
    cve_id                      VARCHAR(20) NOT NULL PRIMARY KEY,
    description                 TEXT NOT NULL,
    cvss_v3_base_score          DOUBLE NULL,
    cvss_v3_base_severity       VARCHAR(16) NULL,
    cvss_v3_attack_vector       VARCHAR(32) NULL,
    cvss_v3_privileges_required VARCHAR(16) NULL,
    cvss_v3_user_interaction    VARCHAR(16) NULL,
    cvss_v2_base_score          DOUBLE NULL,
    cvss_v2_access_vector       VARCHAR(32) NULL,
    cvss_v2_access_complexity   VARCHAR(16) NULL,
    cvss_v2_authentication      VARCHAR(16) NULL,
    exploitability_score        DOUBLE NULL,
    impact_score                DOUBLE NULL,
    published_date              DATETIME NULL,
    last_modified_date          DATETIME NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS epss_scores (
    cve        VARCHAR(20) NOT NULL PRIMARY KEY,
    epss       DOUBLE NOT NULL,
    percentile DOUBLE NOT NULL,
    date       DATE NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS exploits (
    exploit_id     INT UNSIGNED NOT NULL PRIMARY KEY,
    file           VARCHAR(512) NULL,
    description    TEXT NULL,
    date_published DATE NULL,
    author         VARCHAR(255) NULL,
    type           VARCHAR(32) NULL,
    platform       VARCHAR(64) NULL,
    port           VARCHAR(16) NULL,
    verified       TINYINT(1) NOT NULL DEFAULT 0
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS exploit_cves (
    cve        VARCHAR(20) NOT NULL,
    exploit_id INT UNSIGNED NOT NULL,
    PRIMARY KEY (cve, exploit_id),
    KEY idx_exploit_cves_exploit (exploit_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS metasploit_modules (
    module_name     VARCHAR(255) NOT NULL PRIMARY KEY,
    name            VARCHAR(512) NOT NULL,
    fullname        VARCHAR(512) NOT NULL,
    ` + "`rank`" + `          INT NOT NULL DEFAULT 0,
    rank_text       VARCHAR(16) NOT NULL DEFAULT 'unknown',
    disclosure_date DATE NULL,
    type            VARCHAR(32) NOT NULL DEFAULT '',
    description     TEXT NULL,
    ` + "`references`" + ` TEXT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS metasploit_module_cves (
    module_name VARCHAR(255) NOT NULL,
    cve         VARCHAR(20) NOT NULL,
    PRIMARY KEY (cve, module_name)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS settings (
    ` + "`key`" + `   VARCHAR(128) NOT NULL PRIMARY KEY,
    ` + "`value`" + ` VARCHAR(255) NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS background_tasks (
    id                 INT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
    task_type          VARCHAR(64) NOT NULL,
    status             VARCHAR(16) NOT NULL DEFAULT 'pending',
    parameters         JSON NULL,
    description        VARCHAR(512) NOT NULL DEFAULT '',
    created_at         TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at         TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    started_at         TIMESTAMP NULL,
    end_time           TIMESTAMP NULL,
    total_records      INT NULL,
    processed_records  INT NULL,
    progress_percent   DOUBLE NOT NULL DEFAULT 0,
    current_step       VARCHAR(512) NULL,
    error_message      TEXT NULL,
    current_task_owner VARCHAR(64) NULL,
    cancel_requested   TINYINT(1) NOT NULL DEFAULT 0,
    KEY idx_background_tasks_type_status (task_type, status),
    KEY idx_background_tasks_status (status)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// MigrateTables creates the schema.
func (ds *Datastore) MigrateTables(ctx context.Context) error {
	for _, stmt := range tableDDL {
		if _, err := ds.writer.ExecContext(ctx, stmt); err != nil {
			return ctxerr.Wrap(ctx, err, "apply schema statement")
		}
	}
	return nil
}
