// Package mock provides a hand-maintained mock of the vrisk.Datastore
// interface for tests. Each method delegates to an XxxFunc field and flips
// the matching XxxFuncInvoked flag.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/vriskhq/vrisk/server/vrisk"
)

var _ vrisk.Datastore = (*Store)(nil)

type NewTaskFunc func(ctx context.Context, task *vrisk.Task) (*vrisk.Task, error)

type TaskFunc func(ctx context.Context, id uint) (*vrisk.Task, error)

type ListActiveTasksFunc func(ctx context.Context) ([]*vrisk.Task, error)

type ListTasksByTypeFunc func(ctx context.Context, taskType vrisk.TaskType, limit int) ([]*vrisk.Task, error)

type UpdateTaskFunc func(ctx context.Context, id uint, update vrisk.TaskUpdate) error

type CancelTaskFunc func(ctx context.Context, id uint) error

type TaskCancelRequestedFunc func(ctx context.Context, id uint) (bool, error)

type ClaimPendingTaskFunc func(ctx context.Context, owner string) (*vrisk.Task, error)

type RecoverAbandonedTasksFunc func(ctx context.Context) (int, error)

type UpsertHostsFunc func(ctx context.Context, hosts []vrisk.Host) error

type CountHostsFunc func(ctx context.Context, filter vrisk.HostListFilter) (int, error)

type ListHostsFunc func(ctx context.Context, filter vrisk.HostListFilter, opts vrisk.ListOptions) ([]vrisk.Host, error)

type ListHostsAfterFunc func(ctx context.Context, afterID uint, limit int, filter vrisk.HostListFilter) ([]vrisk.Host, error)

type HostCVEsForRecomputeFunc func(ctx context.Context, since *time.Time) ([]string, error)

type UpdateHostRiskFunc func(ctx context.Context, updates []vrisk.HostRiskUpdate) error

type RefreshHostExploitStatsFunc func(ctx context.Context, cves []string) error

type InsertCVEMetaFunc func(ctx context.Context, meta []vrisk.CVEMeta) error

type InsertEPSSScoresFunc func(ctx context.Context, scores []vrisk.EPSSScore) error

type InsertExploitsFunc func(ctx context.Context, exploits []vrisk.Exploit, links []vrisk.ExploitCVE) error

type InsertMetasploitModulesFunc func(ctx context.Context, modules []vrisk.MetasploitModule, links []vrisk.MetasploitModuleCVE) error

type EPSSByCVEsFunc func(ctx context.Context, cves []string) (map[string]vrisk.EPSSScore, error)

type CVEMetaByCVEsFunc func(ctx context.Context, cves []string) (map[string]vrisk.CVEMeta, error)

type ExploitInfoByCVEsFunc func(ctx context.Context, cves []string) (map[string]vrisk.ExploitInfo, error)

type MetasploitRankByCVEsFunc func(ctx context.Context, cves []string) (map[string]int, error)

type FeedCountsFunc func(ctx context.Context) (vrisk.FeedCounts, error)

type SettingsFunc func(ctx context.Context) (map[string]string, error)

type SetSettingFunc func(ctx context.Context, key, value string) error

type Store struct {
	NewTaskFunc        NewTaskFunc
	NewTaskFuncInvoked bool

	TaskFunc        TaskFunc
	TaskFuncInvoked bool

	ListActiveTasksFunc        ListActiveTasksFunc
	ListActiveTasksFuncInvoked bool

	ListTasksByTypeFunc        ListTasksByTypeFunc
	ListTasksByTypeFuncInvoked bool

	UpdateTaskFunc        UpdateTaskFunc
	UpdateTaskFuncInvoked bool

	CancelTaskFunc        CancelTaskFunc
	CancelTaskFuncInvoked bool

	TaskCancelRequestedFunc        TaskCancelRequestedFunc
	TaskCancelRequestedFuncInvoked bool

	ClaimPendingTaskFunc        ClaimPendingTaskFunc
	ClaimPendingTaskFuncInvoked bool

	RecoverAbandonedTasksFunc        RecoverAbandonedTasksFunc
	RecoverAbandonedTasksFuncInvoked bool

	UpsertHostsFunc        UpsertHostsFunc
	UpsertHostsFuncInvoked bool

	CountHostsFunc        CountHostsFunc
	CountHostsFuncInvoked bool

	ListHostsFunc        ListHostsFunc
	ListHostsFuncInvoked bool

	ListHostsAfterFunc        ListHostsAfterFunc
	ListHostsAfterFuncInvoked bool

	HostCVEsForRecomputeFunc        HostCVEsForRecomputeFunc
	HostCVEsForRecomputeFuncInvoked bool

	UpdateHostRiskFunc        UpdateHostRiskFunc
	UpdateHostRiskFuncInvoked bool

	RefreshHostExploitStatsFunc        RefreshHostExploitStatsFunc
	RefreshHostExploitStatsFuncInvoked bool

	InsertCVEMetaFunc        InsertCVEMetaFunc
	InsertCVEMetaFuncInvoked bool

	InsertEPSSScoresFunc        InsertEPSSScoresFunc
	InsertEPSSScoresFuncInvoked bool

	InsertExploitsFunc        InsertExploitsFunc
	InsertExploitsFuncInvoked bool

	InsertMetasploitModulesFunc        InsertMetasploitModulesFunc
	InsertMetasploitModulesFuncInvoked bool

	EPSSByCVEsFunc        EPSSByCVEsFunc
	EPSSByCVEsFuncInvoked bool

	CVEMetaByCVEsFunc        CVEMetaByCVEsFunc
	CVEMetaByCVEsFuncInvoked bool

	ExploitInfoByCVEsFunc        ExploitInfoByCVEsFunc
	ExploitInfoByCVEsFuncInvoked bool

	MetasploitRankByCVEsFunc        MetasploitRankByCVEsFunc
	MetasploitRankByCVEsFuncInvoked bool

	FeedCountsFunc        FeedCountsFunc
	FeedCountsFuncInvoked bool

	SettingsFunc        SettingsFunc
	SettingsFuncInvoked bool

	SetSettingFunc        SetSettingFunc
	SetSettingFuncInvoked bool

	mu sync.Mutex
}

func (s *Store) NewTask(ctx context.Context, task *vrisk.Task) (*vrisk.Task, error) {
	s.mu.Lock()
	s.NewTaskFuncInvoked = true
	s.mu.Unlock()
	return s.NewTaskFunc(ctx, task)
}

func (s *Store) Task(ctx context.Context, id uint) (*vrisk.Task, error) {
	s.mu.Lock()
	s.TaskFuncInvoked = true
	s.mu.Unlock()
	return s.TaskFunc(ctx, id)
}

func (s *Store) ListActiveTasks(ctx context.Context) ([]*vrisk.Task, error) {
	s.mu.Lock()
	s.ListActiveTasksFuncInvoked = true
	s.mu.Unlock()
	return s.ListActiveTasksFunc(ctx)
}

func (s *Store) ListTasksByType(ctx context.Context, taskType vrisk.TaskType, limit int) ([]*vrisk.Task, error) {
	s.mu.Lock()
	s.ListTasksByTypeFuncInvoked = true
	s.mu.Unlock()
	return s.ListTasksByTypeFunc(ctx, taskType, limit)
}

func (s *Store) UpdateTask(ctx context.Context, id uint, update vrisk.TaskUpdate) error {
	s.mu.Lock()
	s.UpdateTaskFuncInvoked = true
	s.mu.Unlock()
	return s.UpdateTaskFunc(ctx, id, update)
}

func (s *Store) CancelTask(ctx context.Context, id uint) error {
	s.mu.Lock()
	s.CancelTaskFuncInvoked = true
	s.mu.Unlock()
	return s.CancelTaskFunc(ctx, id)
}

func (s *Store) TaskCancelRequested(ctx context.Context, id uint) (bool, error) {
	s.mu.Lock()
	s.TaskCancelRequestedFuncInvoked = true
	s.mu.Unlock()
	return s.TaskCancelRequestedFunc(ctx, id)
}

func (s *Store) ClaimPendingTask(ctx context.Context, owner string) (*vrisk.Task, error) {
	s.mu.Lock()
	s.ClaimPendingTaskFuncInvoked = true
	s.mu.Unlock()
	return s.ClaimPendingTaskFunc(ctx, owner)
}

func (s *Store) RecoverAbandonedTasks(ctx context.Context) (int, error) {
	s.mu.Lock()
	s.RecoverAbandonedTasksFuncInvoked = true
	s.mu.Unlock()
	return s.RecoverAbandonedTasksFunc(ctx)
}

func (s *Store) UpsertHosts(ctx context.Context, hosts []vrisk.Host) error {
	s.mu.Lock()
	s.UpsertHostsFuncInvoked = true
	s.mu.Unlock()
	return s.UpsertHostsFunc(ctx, hosts)
}

func (s *Store) CountHosts(ctx context.Context, filter vrisk.HostListFilter) (int, error) {
	s.mu.Lock()
	s.CountHostsFuncInvoked = true
	s.mu.Unlock()
	return s.CountHostsFunc(ctx, filter)
}

func (s *Store) ListHosts(ctx context.Context, filter vrisk.HostListFilter, opts vrisk.ListOptions) ([]vrisk.Host, error) {
	s.mu.Lock()
	s.ListHostsFuncInvoked = true
	s.mu.Unlock()
	return s.ListHostsFunc(ctx, filter, opts)
}

func (s *Store) ListHostsAfter(ctx context.Context, afterID uint, limit int, filter vrisk.HostListFilter) ([]vrisk.Host, error) {
	s.mu.Lock()
	s.ListHostsAfterFuncInvoked = true
	s.mu.Unlock()
	return s.ListHostsAfterFunc(ctx, afterID, limit, filter)
}

func (s *Store) HostCVEsForRecompute(ctx context.Context, since *time.Time) ([]string, error) {
	s.mu.Lock()
	s.HostCVEsForRecomputeFuncInvoked = true
	s.mu.Unlock()
	return s.HostCVEsForRecomputeFunc(ctx, since)
}

func (s *Store) UpdateHostRisk(ctx context.Context, updates []vrisk.HostRiskUpdate) error {
	s.mu.Lock()
	s.UpdateHostRiskFuncInvoked = true
	s.mu.Unlock()
	return s.UpdateHostRiskFunc(ctx, updates)
}

func (s *Store) RefreshHostExploitStats(ctx context.Context, cves []string) error {
	s.mu.Lock()
	s.RefreshHostExploitStatsFuncInvoked = true
	s.mu.Unlock()
	return s.RefreshHostExploitStatsFunc(ctx, cves)
}

func (s *Store) InsertCVEMeta(ctx context.Context, meta []vrisk.CVEMeta) error {
	s.mu.Lock()
	s.InsertCVEMetaFuncInvoked = true
	s.mu.Unlock()
	return s.InsertCVEMetaFunc(ctx, meta)
}

func (s *Store) InsertEPSSScores(ctx context.Context, scores []vrisk.EPSSScore) error {
	s.mu.Lock()
	s.InsertEPSSScoresFuncInvoked = true
	s.mu.Unlock()
	return s.InsertEPSSScoresFunc(ctx, scores)
}

func (s *Store) InsertExploits(ctx context.Context, exploits []vrisk.Exploit, links []vrisk.ExploitCVE) error {
	s.mu.Lock()
	s.InsertExploitsFuncInvoked = true
	s.mu.Unlock()
	return s.InsertExploitsFunc(ctx, exploits, links)
}

func (s *Store) InsertMetasploitModules(ctx context.Context, modules []vrisk.MetasploitModule, links []vrisk.MetasploitModuleCVE) error {
	s.mu.Lock()
	s.InsertMetasploitModulesFuncInvoked = true
	s.mu.Unlock()
	return s.InsertMetasploitModulesFunc(ctx, modules, links)
}

func (s *Store) EPSSByCVEs(ctx context.Context, cves []string) (map[string]vrisk.EPSSScore, error) {
	s.mu.Lock()
	s.EPSSByCVEsFuncInvoked = true
	s.mu.Unlock()
	return s.EPSSByCVEsFunc(ctx, cves)
}

func (s *Store) CVEMetaByCVEs(ctx context.Context, cves []string) (map[string]vrisk.CVEMeta, error) {
	s.mu.Lock()
	s.CVEMetaByCVEsFuncInvoked = true
	s.mu.Unlock()
	return s.CVEMetaByCVEsFunc(ctx, cves)
}

func (s *Store) ExploitInfoByCVEs(ctx context.Context, cves []string) (map[string]vrisk.ExploitInfo, error) {
	s.mu.Lock()
	s.ExploitInfoByCVEsFuncInvoked = true
	s.mu.Unlock()
	return s.ExploitInfoByCVEsFunc(ctx, cves)
}

func (s *Store) MetasploitRankByCVEs(ctx context.Context, cves []string) (map[string]int, error) {
	s.mu.Lock()
	s.MetasploitRankByCVEsFuncInvoked = true
	s.mu.Unlock()
	return s.MetasploitRankByCVEsFunc(ctx, cves)
}

func (s *Store) FeedCounts(ctx context.Context) (vrisk.FeedCounts, error) {
	s.mu.Lock()
	s.FeedCountsFuncInvoked = true
	s.mu.Unlock()
	return s.FeedCountsFunc(ctx)
}

func (s *Store) Settings(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	s.SettingsFuncInvoked = true
	s.mu.Unlock()
	return s.SettingsFunc(ctx)
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	s.SetSettingFuncInvoked = true
	s.mu.Unlock()
	return s.SetSettingFunc(ctx, key, value)
}
