package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/user/stevebot/internal/config"
	"github.com/user/stevebot/internal/state"
	"github.com/user/stevebot/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionClearCmd)
	sessionListCmd.Flags().String("feature", "", "only list sessions of this feature (music, dashboard, giveaway, nickname)")
}

func openSnapshots(cfg *config.Config) (types.SnapshotStore, error) {
	snaps, err := state.Open(cfg.Snapshot.Backend, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	return snaps, nil
}

// requireStopped refuses offline edits while a daemon owns the sessions; it
// would overwrite them from memory on its next write.
func requireStopped(cfg *config.Config) error {
	if pid, err := readPID(cfg); err == nil {
		return fmt.Errorf("daemon is running (PID %d); stop it first with `stevebot stop`", pid)
	}
	return nil
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect persisted sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all persisted sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		feature, _ := cmd.Flags().GetString("feature")
		cfg := loadConfig()
		snaps, err := openSnapshots(cfg)
		if err != nil {
			return err
		}
		defer snaps.Close()

		all, err := snaps.Load(context.Background())
		if err != nil {
			return fmt.Errorf("load sessions: %w", err)
		}
		keys := make([]types.SessionKey, 0, len(all))
		for k := range all {
			if feature == "" || k.Feature() == types.Feature(feature) {
				keys = append(keys, k)
			}
		}
		if len(keys) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		rows := make([][]string, 0, len(keys))
		for _, k := range keys {
			snap := all[k]
			rows = append(rows, []string{
				string(k),
				string(k.Feature()),
				snap.ChannelID,
				describe(snap),
				strconv.Itoa(items(snap)),
				humanize.Time(snap.UpdatedAt),
			})
		}
		fmt.Println(renderTable(
			[]string{"Key", "Feature", "Channel", "State", "Items", "Updated"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
		))
		return nil
	},
}

// describe summarises a snapshot in a few words.
func describe(snap *types.Snapshot) string {
	switch snap.Key.Feature() {
	case types.FeatureMusic:
		if snap.Playing && len(snap.Queue) > 0 {
			return "playing " + snap.Queue[0].Title
		}
		return "idle"
	case types.FeatureGiveaway:
		if g := snap.Giveaway; g != nil {
			if g.Ended {
				return "ended"
			}
			return "ends " + humanize.Time(g.EndsAt)
		}
	case types.FeatureNickname:
		if n := snap.Nicknames; n != nil {
			return "restores " + humanize.Time(n.ExpiresAt)
		}
	case types.FeatureDashboard:
		return "tracking"
	case types.FeatureScoreboard:
		if b := snap.Scoreboard; b != nil {
			return fmt.Sprintf("attack %d, defend %d", b.Attack, b.Defend)
		}
	}
	return "-"
}

// items counts queued tracks, tracked accounts, entries or renamed members.
func items(snap *types.Snapshot) int {
	switch {
	case len(snap.Queue) > 0:
		return len(snap.Queue)
	case len(snap.Tracked) > 0:
		return len(snap.Tracked)
	case snap.Giveaway != nil:
		return len(snap.Giveaway.Entries)
	case snap.Nicknames != nil:
		return len(snap.Nicknames.Originals)
	}
	return 0
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <key|all>",
	Short: "Clear a persisted session or all sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if err := requireStopped(cfg); err != nil {
			return err
		}
		snaps, err := openSnapshots(cfg)
		if err != nil {
			return err
		}
		defer snaps.Close()

		ctx := context.Background()
		all, err := snaps.Load(ctx)
		if err != nil {
			return fmt.Errorf("load sessions: %w", err)
		}

		if args[0] == "all" {
			var errs []error
			for k := range all {
				if err := snaps.Delete(ctx, k); err != nil {
					errs = append(errs, err)
				}
			}
			if err := errors.Join(errs...); err != nil {
				return err
			}
			fmt.Printf("Cleared %d sessions.\n", len(all))
			return nil
		}

		key := types.SessionKey(args[0])
		if _, ok := all[key]; !ok {
			return fmt.Errorf("session not found: %s", args[0])
		}
		if err := snaps.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Session %s cleared.\n", key)
		return nil
	},
}
