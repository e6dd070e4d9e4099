package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// scratchPrefixes name the temporary directories jobs create inside a
// project directory
var scratchPrefixes = []string{"render-", "extract-"}

// InitializeSchedules starts the housekeeping cron job and returns the
// scheduler so the caller can stop it on shutdown
func (serverHandler *ServerHandler) InitializeSchedules() *cron.Cron {
	interval := serverHandler.ServerConfig.CleanupInterval
	if interval <= 0 {
		interval = 30
	}

	// Run cleanup immediately at startup in a goroutine
	Logger.Info("Running cleanup job at startup")
	go serverHandler.cleanupJobFunc()

	c := cron.New()
	var cleanupJob cron.Job
	cleanupJob = cron.FuncJob(serverHandler.cleanupJobFunc)
	cleanupJob = cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)).Then(cleanupJob) //ensure we don't kick off another if old one is still running
	c.AddJob(fmt.Sprintf("@every %dm", interval), cleanupJob)
	Logger.Info("Adding cleanup job scheduler", "interval_minutes", interval)
	c.Start()
	return c
}

// cleanupJobFunc prunes old job history and scratch directories left
// behind by a crash
func (serverHandler *ServerHandler) cleanupJobFunc() {
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered in cleanup job", "panic", r)
		}
	}()

	removed := serverHandler.Engine.SweepScratch(time.Hour)
	if removed > 0 {
		Logger.Info("Removed stale scratch directories", "count", removed)
	}

	if serverHandler.DB == nil {
		return
	}
	retention := serverHandler.ServerConfig.JobRetention
	if retention <= 0 {
		return
	}
	pruned, err := serverHandler.DB.DeleteOldJobs(retention)
	if err != nil {
		Logger.Error("Failed to prune job history", "error", err)
		return
	}
	if pruned > 0 {
		Logger.Info("Pruned finished jobs", "count", pruned, "older_than", retention)
	}
}

// SweepScratch removes render-* and extract-* directories older than age
// from projects that have no live render. Extraction swaps its staging
// directory in as a whole, so an old one is always abandoned.
func (e *Engine) SweepScratch(age time.Duration) int {
	removed := 0
	cutoff := time.Now().Add(-age)
	for _, project := range e.store.List() {
		if _, live := e.store.ActiveJob(project.ID); live {
			continue
		}
		entries, err := os.ReadDir(project.Dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || !hasScratchPrefix(entry.Name()) {
				continue
			}
			info, err := entry.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			path := filepath.Join(project.Dir, entry.Name())
			if err := os.RemoveAll(path); err != nil {
				Logger.Warn("Could not remove scratch directory", "path", path, "error", err)
				continue
			}
			removed++
		}
	}
	return removed
}

func hasScratchPrefix(name string) bool {
	for _, prefix := range scratchPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
