package pipeline

import (
	"context"
	"time"

	"github.com/vriskhq/vrisk/server/contexts/ctxerr"
	"github.com/vriskhq/vrisk/server/risk"
	"github.com/vriskhq/vrisk/server/vrisk"
)

// Recompute refreshes the risk columns of every host whose CVE is stale
// per since (nil means everything). Per-CVE attributes are fetched with
// four set-valued reads up front; the host table is then streamed with a
// keyset cursor and updated in batches. No query runs per host.
func (p *Pipeline) Recompute(ctx context.Context, since *time.Time, opts RunOptions) (Result, error) {
	var res Result

	cves, err := p.ds.HostCVEsForRecompute(ctx, since)
	if err != nil {
		return res, ctxerr.Wrap(ctx, err, "select stale cves")
	}
	if len(cves) == 0 {
		return res, nil
	}

	staleCVEs := make(map[string]struct{}, len(cves))
	for _, cve := range cves {
		staleCVEs[cve] = struct{}{}
	}

	epssByCVE, err := p.ds.EPSSByCVEs(ctx, cves)
	if err != nil {
		return res, ctxerr.Wrap(ctx, err, "fetch epss scores")
	}
	metaByCVE, err := p.ds.CVEMetaByCVEs(ctx, cves)
	if err != nil {
		return res, ctxerr.Wrap(ctx, err, "fetch cve meta")
	}
	exploitByCVE, err := p.ds.ExploitInfoByCVEs(ctx, cves)
	if err != nil {
		return res, ctxerr.Wrap(ctx, err, "fetch exploit info")
	}
	rankByCVE, err := p.ds.MetasploitRankByCVEs(ctx, cves)
	if err != nil {
		return res, ctxerr.Wrap(ctx, err, "fetch metasploit ranks")
	}

	settingsMap, err := p.ds.Settings(ctx)
	if err != nil {
		return res, ctxerr.Wrap(ctx, err, "read settings snapshot")
	}
	settings := vrisk.RiskSettingsFromMap(settingsMap)

	total, err := p.ds.CountHosts(ctx, vrisk.HostListFilter{})
	if err != nil {
		return res, ctxerr.Wrap(ctx, err, "count hosts")
	}

	reportEvery := total / 100
	if reportEvery < 1000 {
		reportEvery = 1000
	}
	lastReported := 0

	var cursor uint
	for {
		hosts, err := p.ds.ListHostsAfter(ctx, cursor, p.batchSize, vrisk.HostListFilter{})
		if err != nil {
			return res, ctxerr.Wrap(ctx, err, "scan hosts")
		}
		if len(hosts) == 0 {
			break
		}
		cursor = hosts[len(hosts)-1].ID

		updates := make([]vrisk.HostRiskUpdate, 0, len(hosts))
		for _, h := range hosts {
			if _, stale := staleCVEs[h.CVE]; !stale {
				continue
			}

			in := risk.Input{
				HostCVSS:         h.CVSS,
				Criticality:      h.Criticality,
				ConfidentialData: h.ConfidentialData,
				InternetAccess:   h.InternetAccess,
			}
			update := vrisk.HostRiskUpdate{HostID: h.ID}
			if score, ok := epssByCVE[h.CVE]; ok {
				in.EPSS = &score.EPSS
				update.EPSSScore = &score.EPSS
				update.EPSSPercentile = &score.Percentile
			}
			if meta, ok := metaByCVE[h.CVE]; ok {
				in.CVEMeta = &meta
			}
			if info, ok := exploitByCVE[h.CVE]; ok {
				in.ExploitDBType = info.Type
			}
			if rank, ok := rankByCVE[h.CVE]; ok {
				in.MetasploitRank = &rank
			}

			update.RiskRaw, update.RiskScore = risk.Score(in, settings)
			updates = append(updates, update)
		}

		if err := p.ds.UpdateHostRisk(ctx, updates); err != nil {
			return res, ctxerr.Wrap(ctx, err, "apply risk updates")
		}
		res.Inserted += len(updates)

		if res.Inserted-lastReported >= reportEvery || res.Inserted == total {
			opts.progress(res.Inserted, total, "recomputing host risk")
			lastReported = res.Inserted
		}

		if opts.cancelled() {
			res.Cancelled = true
			return res, nil
		}
	}

	opts.progress(res.Inserted, total, "recomputing host risk")
	return res, nil
}
