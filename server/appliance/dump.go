package appliance

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vriskhq/vrisk/server/contexts/ctxerr"
	"github.com/vriskhq/vrisk/server/vrisk"
)

const (
	dumpSubdir     = "vm_imports"
	dumpNamePrefix = "vm_data_"
)

// SaveDump writes the normalized host rows of an appliance export under
// <dataDir>/vm_imports/vm_data_<timestamp>.json so manual-import can replay
// them without touching the appliance.
func SaveDump(ctx context.Context, dataDir string, hosts []vrisk.Host, now time.Time) (string, error) {
	dir := filepath.Join(dataDir, dumpSubdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", ctxerr.Wrap(ctx, err, "create vm_imports dir")
	}

	path := filepath.Join(dir, dumpNamePrefix+now.Format("20060102_150405")+".json")
	f, err := os.Create(path)
	if err != nil {
		return "", ctxerr.Wrap(ctx, err, "create vm dump file")
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(hosts); err != nil {
		os.Remove(path)
		return "", ctxerr.Wrap(ctx, err, "encode vm dump")
	}
	return path, nil
}

// LatestDump loads the newest saved export. The naming scheme sorts
// lexicographically by timestamp so no stat calls are needed.
func LatestDump(ctx context.Context, dataDir string) ([]vrisk.Host, string, error) {
	dir := filepath.Join(dataDir, dumpSubdir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ctxerr.New(ctx, "no appliance export has been saved yet")
		}
		return nil, "", ctxerr.Wrap(ctx, err, "read vm_imports dir")
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, dumpNamePrefix) && strings.HasSuffix(name, ".json") {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, "", ctxerr.New(ctx, "no appliance export has been saved yet")
	}
	sort.Strings(names)
	path := filepath.Join(dir, names[len(names)-1])

	f, err := os.Open(path)
	if err != nil {
		return nil, "", ctxerr.Wrap(ctx, err, "open vm dump file")
	}
	defer f.Close()

	var hosts []vrisk.Host
	if err := json.NewDecoder(f).Decode(&hosts); err != nil {
		return nil, "", ctxerr.Wrap(ctx, err, "decode vm dump")
	}
	return hosts, path, nil
}

// FilterDump applies manual-import filters to a loaded dump. Empty filter
// lists match everything; matching is case-insensitive.
func FilterDump(hosts []vrisk.Host, filters vrisk.ManualImportFilters) []vrisk.Host {
	criticality := toLowerSet(filters.CriticalityFilter)
	osNames := toLowerSet(filters.OSFilter)
	zones := toLowerSet(filters.ZoneFilter)

	var out []vrisk.Host
	for _, h := range hosts {
		if len(criticality) > 0 && !criticality[strings.ToLower(string(h.Criticality))] {
			continue
		}
		if len(osNames) > 0 && !matchesOptional(osNames, h.OSName) {
			continue
		}
		if len(zones) > 0 && !matchesOptional(zones, h.Zone) {
			continue
		}
		out = append(out, h)
	}
	return out
}

func toLowerSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = true
	}
	return set
}

func matchesOptional(set map[string]bool, value *string) bool {
	if value == nil {
		return false
	}
	return set[strings.ToLower(*value)]
}
