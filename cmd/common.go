package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/packsync/packsync/internal/utils"
	"github.com/packsync/packsync/pkg/adsapi"
	"github.com/packsync/packsync/pkg/pack"
	"github.com/packsync/packsync/pkg/storage"
	"github.com/packsync/packsync/pkg/tracker"
)

// store bundles the opened database, its cache and the write lock.
type store struct {
	db    *storage.DB
	cache *storage.Cache
	lock  *utils.DBLock
}

// openStore opens the database. Writers take the file lock first so two
// processes never write concurrently.
func openStore(cmd *cobra.Command, remote storage.DetailSource, write bool) (*store, error) {
	dbPath, err := resolveDBPath(cmd)
	if err != nil {
		return nil, err
	}

	s := &store{}
	if write {
		s.lock, err = utils.NewDBLock(dbPath)
		if err != nil {
			return nil, err
		}
		if err := s.lock.Lock(); err != nil {
			return nil, err
		}
	}

	s.db, err = storage.Open(dbPath)
	if err != nil {
		s.unlock()
		return nil, err
	}
	s.cache = storage.NewCache(s.db, storage.CacheConfig{
		DetailTTL: viper.GetDuration("cache.detail_ttl"),
		Source:    remote,
		Log:       utils.Log,
	})
	return s, nil
}

func (s *store) Close() {
	s.cache.Close()
	if err := s.db.Close(); err != nil {
		utils.Log.Warnf("Could not close database: %v", err)
	}
	s.unlock()
}

func (s *store) unlock() {
	if s.lock == nil {
		return
	}
	if err := s.lock.Unlock(); err != nil {
		utils.Log.Warnf("%v", err)
	}
}

func resolveDBPath(cmd *cobra.Command) (string, error) {
	raw, _ := cmd.Flags().GetString("dbpath")
	if raw == "" {
		raw = viper.GetString("db.path")
	}
	return utils.GetAbsDBPath(raw)
}

func newRemote(cmd *cobra.Command) (*adsapi.Client, error) {
	proxy, _ := cmd.Flags().GetString("proxy")
	token := viper.GetString("api.token")
	if token == "" {
		utils.Log.Warn("No API token configured; set api.token in ~/.packsync.yaml or PACKSYNC_API_TOKEN")
	}
	return adsapi.NewClient(adsapi.Config{
		BaseURL:           viper.GetString("api.base_url"),
		Token:             token,
		Timeout:           viper.GetDuration("api.timeout"),
		RetryMax:          viper.GetInt("api.retries"),
		RequestsPerSecond: viper.GetFloat64("api.rate"),
		Proxy:             proxy,
	})
}

func newTracker(remote adsapi.Remote, s *store) *tracker.Tracker {
	var filter pack.ItemFilter
	if viper.GetBool("cache.all_items") {
		filter = pack.AllItems
	}
	return tracker.New(remote, s.cache, nil, tracker.Config{
		Interval:           viper.GetDuration("poll.interval"),
		MaxAttempts:        viper.GetInt("poll.max_attempts"),
		RefreshMaxAttempts: viper.GetInt("poll.refresh_max_attempts"),
		DetailTTL:          viper.GetDuration("cache.detail_ttl"),
		Filter:             filter,
		Log:                utils.Log,
		Notifier:           tracker.NotifierFunc(printNotice),
	})
}

func printNotice(n tracker.Notice) {
	switch n.Kind {
	case tracker.NoticeSuccess:
		fmt.Printf("✅ %s\n", n.Message)
	case tracker.NoticeEmpty:
		fmt.Printf("∅  Job %s: %s\n", n.JobID, n.Message)
	case tracker.NoticeCleared:
		fmt.Printf("🛑 Job %s cancelled\n", n.JobID)
	default:
		fmt.Fprintf(os.Stderr, "❌ Job %s: %s\n", n.JobID, n.Message)
	}
}

// signalContext is cancelled on Ctrl+C, which cancels any tracked job.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func printChanges(changes []storage.Change) {
	for _, c := range changes {
		var emoji string
		switch c.ChangeType {
		case "added":
			emoji = "🆕"
		case "removed":
			emoji = "❌"
		case "updated":
			emoji = "🔄"
		}
		fmt.Printf("%s  %s  %s\n", emoji, c.PackID, c.Name)
	}
}
