// File: internal/scheduler/scheduler.go
// Brief: Periodic driver of the blue/green deployer.

// Package scheduler is the outer loop around the blue/green deployer. Each
// tick it snapshots the existing stacks once, advances every active
// deployment and persists the statuses the deployer proposes.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/example/lizzy/internal/deployer"
	"github.com/example/lizzy/internal/senza"
	"github.com/example/lizzy/internal/store"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval    = 30 * time.Second
	DefaultConcurrency = 4
)

// Client is the Stack Control Client surface the scheduler needs.
type Client interface {
	deployer.StackController
	List(ctx context.Context) ([]senza.Stack, error)
}

// Store persists deployment statuses.
type Store interface {
	ListActive(ctx context.Context) ([]*store.Deployment, error)
	UpdateStatus(ctx context.Context, id string, status deployer.Status) (bool, error)
}

// Options configures a Scheduler.
type Options struct {
	Client      Client
	Store       Store
	Logger      logr.Logger
	Interval    time.Duration
	Concurrency int
}

// Scheduler advances deployments until they reach a terminal status.
type Scheduler struct {
	client      Client
	store       Store
	log         logr.Logger
	interval    time.Duration
	concurrency int
}

// TickResult summarises one pass over the active deployments.
type TickResult struct {
	Processed int
	Changed   int
	Skipped   int
}

// New returns a Scheduler with defaults applied.
func New(opts Options) *Scheduler {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Scheduler{
		client:      opts.Client,
		store:       opts.Store,
		log:         opts.Logger.WithName("scheduler"),
		interval:    interval,
		concurrency: concurrency,
	}
}

// Tick advances every active deployment once. A failed stack listing
// aborts the tick before any deployer runs.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	var res TickResult
	active, err := s.store.ListActive(ctx)
	if err != nil {
		return res, fmt.Errorf("list active deployments: %w", err)
	}
	if len(active) == 0 {
		return res, nil
	}
	stacks, err := s.client.List(ctx)
	if err != nil {
		return res, fmt.Errorf("list stacks: %w", err)
	}
	snap := senza.NewSnapshot(stacks)
	versions := deployer.VersionsFromSnapshot(snap)

	var processed, changed, skipped atomic.Int64
	var eg errgroup.Group
	eg.SetLimit(s.concurrency)
	for _, group := range groupByStack(active) {
		group := group // per-iteration copy; go directive is 1.21 (pre-loopvar semantics)
		name := group[0].StackName
		stackVersions := deployer.StackVersions{}
		for v := range versions[name] {
			stackVersions.Add(name, v)
		}
		eg.Go(func() error {
			var firstErr error
			for _, d := range group {
				bg := deployer.NewBlueGreen(d, s.client, snap, s.log)
				next, ok := advance(ctx, bg, d.Status, stackVersions)
				if !ok {
					skipped.Add(1)
					s.log.Info("Skipping deployment with unknown status.", "deployment", d.ID, "status", d.Status)
					continue
				}
				processed.Add(1)
				if d.Status == deployer.StatusDeployed {
					forgetRetired(stackVersions, name)
				}
				updated, err := s.store.UpdateStatus(ctx, d.ID, next)
				if err != nil {
					if firstErr == nil {
						firstErr = fmt.Errorf("update %s: %w", d.ID, err)
					}
					continue
				}
				if updated {
					changed.Add(1)
					s.log.Info("Deployment status changed.", "deployment", d.ID, "from", d.Status, "to", next)
				}
			}
			return firstErr
		})
	}
	err = eg.Wait()
	res.Processed = int(processed.Load())
	res.Changed = int(changed.Load())
	res.Skipped = int(skipped.Load())
	return res, err
}

// groupByStack splits deployments by stack name. Deployments of one stack
// share versions and traffic, so each group is advanced sequentially with
// the highest numeric version last. Non-numeric versions go first. Groups
// keep the order of first appearance.
func groupByStack(active []*store.Deployment) [][]deployer.Deployment {
	index := map[string]int{}
	var groups [][]deployer.Deployment
	for _, rec := range active {
		i, ok := index[rec.StackName]
		if !ok {
			i = len(groups)
			index[rec.StackName] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], rec.Deployment)
	}
	for _, g := range groups {
		sort.SliceStable(g, func(a, b int) bool {
			va, errA := strconv.Atoi(g[a].StackVersion)
			vb, errB := strconv.Atoi(g[b].StackVersion)
			switch {
			case errA != nil:
				return errB == nil
			case errB != nil:
				return false
			}
			return va < vb
		})
	}
	return groups
}

// forgetRetired drops the versions a Deployed pass just retired so a later
// deployment of the same stack does not remove them again.
func forgetRetired(sv deployer.StackVersions, stackName string) {
	set := sv[stackName]
	all := make([]int, 0, len(set))
	for v := range set {
		all = append(all, v)
	}
	sort.Ints(all)
	for _, v := range deployer.VersionsToRemove(all) {
		delete(set, v)
	}
}

// advance picks the deployer operation for the recorded status. Settled
// CF: deployments are only watched for removal so that an older version
// never pulls traffic back from a newer one.
func advance(ctx context.Context, bg *deployer.BlueGreen, status deployer.Status, versions deployer.StackVersions) (deployer.Status, bool) {
	switch status {
	case deployer.StatusDeploying:
		return bg.Deploying(ctx), true
	case deployer.StatusDeployed:
		return bg.Deployed(ctx, versions), true
	case deployer.StatusRemoved:
		return status, false
	}
	if _, ok := status.CloudFormationStatus(); ok && status.Valid() {
		return bg.Watch(ctx), true
	}
	return status, false
}

// Run ticks until ctx is cancelled. Tick failures are logged and retried on
// the next interval.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		res, err := s.Tick(ctx)
		if err != nil {
			s.log.Error(err, "Scheduler tick failed.")
		} else if res.Processed > 0 {
			s.log.V(1).Info("Scheduler tick finished.", "processed", res.Processed, "changed", res.Changed, "skipped", res.Skipped)
		}
		timer := time.NewTimer(jitter(s.interval))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	// +/- 20%
	f := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(d) * f)
}
