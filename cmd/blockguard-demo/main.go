// Copyright (c) 2020 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Command blockguard-demo wires a BlockInfoManager together with a
// storage-tier resolver and an attempt-id allocator and drives a handful
// of simulated tasks through it, to exercise the whole stack end to end
// outside of a test binary.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/uber-go/tally"
	"github.com/urfave/cli"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/uber/blockguard/common/config"
	"github.com/uber/blockguard/common/log"
	"github.com/uber/blockguard/common/log/tag"
	"github.com/uber/blockguard/common/metrics"
	"github.com/uber/blockguard/service/attemptid"
	"github.com/uber/blockguard/service/blockmgr"
	"github.com/uber/blockguard/service/storagetier"
)

// sequentialLeaseSource hands out consecutive ranges with no coordination;
// good enough for a single-process demo where attemptid.LeaseSource would
// otherwise be backed by a shared coordination service.
type sequentialLeaseSource struct {
	mu   sync.Mutex
	next int64
}

func (s *sequentialLeaseSource) RenewLease(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	return id, nil
}

func main() {
	app := cli.NewApp()
	app.Name = "blockguard-demo"
	app.Usage = "drive a BlockInfoManager through a simulated multi-task workload"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Usage: "path to a ManagerConfig YAML file"},
		cli.IntFlag{Name: "tasks", Value: 8, Usage: "number of simulated tasks"},
		cli.IntFlag{Name: "blocks", Value: 4, Usage: "number of distinct blocks contended over"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := defaultConfig()
	if path := c.String("config"); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return fmt.Errorf("blockguard-demo: %w", err)
		}
		cfg = loaded
	}

	runID := uuid.New().String()
	zapLogger, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("blockguard-demo: failed to build logger: %w", err)
	}
	logger := log.NewLogger(zapLogger).With(tag.RunID(runID))
	logger.Info("starting blockguard-demo run")

	reporter := tally.NoopCachedStatsReporter
	scope, closer := tally.NewRootScope(tally.ScopeOptions{
		Prefix:         cfg.MetricsServiceName,
		CachedReporter: reporter,
	}, time.Second)
	defer closer.Close()
	metricsScope := metrics.NewScope(scope)

	tiers := make([]storagetier.Tier, len(cfg.AvailableTiers))
	for i, t := range cfg.AvailableTiers {
		tiers[i] = storagetier.Tier(t)
	}
	availability := storagetier.NewStaticAvailability(tiers...)
	resolver := storagetier.NewDefaultResolver(availability, storagetier.Tier(cfg.PreferredTier), logger)

	allocator := attemptid.NewAllocator(&sequentialLeaseSource{}, cfg.AttemptIDBlockSize, logger, metricsScope)

	manager := blockmgr.NewBlockInfoManager(blockmgr.ContextTaskAttemptID, logger, metricsScope)

	defer func() {
		if r := recover(); r != nil {
			logger.Fatal("block info manager reported an invariant violation", tag.Reason(fmt.Sprint(r)))
		}
	}()

	return simulate(manager, resolver, allocator, c.Int("tasks"), c.Int("blocks"))
}

func defaultConfig() *config.ManagerConfig {
	return &config.ManagerConfig{
		PreferredTier:      "memory",
		AvailableTiers:     []string{"memory", "disk"},
		AttemptIDBlockSize: 100,
		MetricsServiceName: "blockguard",
	}
}

func simulate(
	manager *blockmgr.BlockInfoManager,
	resolver storagetier.Resolver,
	allocator *attemptid.Allocator,
	numTasks, numBlocks int,
) error {
	ctx := context.Background()
	blockIDs := make([]blockmgr.BlockID, numBlocks)
	for i := range blockIDs {
		blockIDs[i] = blockmgr.BlockID(fmt.Sprintf("block-%d", i))
	}

	var (
		wg       sync.WaitGroup
		errsMu   sync.Mutex
		workErrs error
	)
	recordErr := func(worker int, stage string, err error) {
		errsMu.Lock()
		defer errsMu.Unlock()
		workErrs = multierr.Append(workErrs, fmt.Errorf("worker %d: %s: %w", worker, stage, err))
	}

	wg.Add(numTasks)
	for i := 0; i < numTasks; i++ {
		go func(worker int) {
			defer wg.Done()
			task, err := allocator.Next(ctx)
			if err != nil {
				recordErr(worker, "allocate attempt id", err)
				return
			}
			if err := manager.RegisterTask(task); err != nil {
				recordErr(worker, "register task", err)
				return
			}
			taskCtx := blockmgr.WithTaskAttemptID(ctx, task)

			rnd := rand.New(rand.NewSource(int64(task)))
			blockID := blockIDs[rnd.Intn(numBlocks)]

			tier, err := resolver.Resolve(taskCtx, string(blockID), nil)
			if err != nil {
				recordErr(worker, "resolve tier", err)
				manager.ReleaseAllLocksForTask(task)
				return
			}

			info := blockmgr.NewBlockInfo(blockmgr.StorageLevel(tier), "demo", false, int64(worker))
			if manager.LockNewBlockForWriting(taskCtx, blockID, info) {
				time.Sleep(time.Millisecond)
				_ = manager.Unlock(taskCtx, blockID)
			} else {
				_ = manager.Unlock(taskCtx, blockID)
			}
			manager.ReleaseAllLocksForTask(task)
		}(i)
	}
	wg.Wait()

	fmt.Printf("tracked blocks: %d, ids issued: %d\n", manager.Size(), allocator.Issued())
	for id, info := range manager.Entries() {
		fmt.Printf("  %s: tier=%s readers=%d writer=%d\n", id, info.StorageLevel, info.ReaderCount, info.WriterTask)
	}
	if workErrs != nil {
		fmt.Fprintln(os.Stderr, workErrs)
	}
	return nil
}
