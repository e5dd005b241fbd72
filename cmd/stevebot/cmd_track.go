package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/user/stevebot/internal/dashboard"
	"github.com/user/stevebot/internal/session"
	"github.com/user/stevebot/internal/steam"
	"github.com/user/stevebot/internal/types"
)

func init() {
	rootCmd.AddCommand(trackCmd)
	trackCmd.AddCommand(trackAddCmd, trackRemoveCmd, trackListCmd)
}

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Manage tracked Steam accounts while the daemon is stopped",
}

// editDashboard applies fn to the dashboard session of channelID and saves
// the result.
func editDashboard(channelID string, fn func(*session.Session) session.Outcome) (session.Outcome, error) {
	cfg := loadConfig()
	if err := requireStopped(cfg); err != nil {
		return session.Outcome{}, err
	}
	snaps, err := openSnapshots(cfg)
	if err != nil {
		return session.Outcome{}, err
	}
	defer snaps.Close()

	ctx := context.Background()
	all, err := snaps.Load(ctx)
	if err != nil {
		return session.Outcome{}, fmt.Errorf("load sessions: %w", err)
	}
	key := dashboard.Key(channelID)
	sess := session.New(key)
	if snap, ok := all[key]; ok {
		sess = session.FromSnapshot(snap)
	}
	sess.SetChannel(channelID)
	out := fn(sess)
	if !out.Persist {
		return out, nil
	}
	snap := sess.Snapshot()
	snap.UpdatedAt = time.Now()
	if err := snaps.Save(ctx, snap); err != nil {
		return out, fmt.Errorf("save session: %w", err)
	}
	return out, nil
}

var trackAddCmd = &cobra.Command{
	Use:   "add <channel-id> <owner-id> <steam-id>",
	Short: "Track a Steam account on a channel's dashboard",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		channelID, ownerID, steamID := args[0], args[1], args[2]
		entity := types.TrackedEntity{ExternalID: steamID, ChannelID: channelID, OwnerID: ownerID}

		if cfg := loadConfig(); cfg.Steam.APIKey != "" {
			client := steam.NewClient(cfg.Steam.APIKey, cfg.Steam.RequestTimeout)
			statuses, err := client.FetchBatch(cmd.Context(), []string{steamID})
			if err != nil {
				return fmt.Errorf("look up %s: %w", steamID, err)
			}
			st, ok := statuses[steamID]
			if !ok {
				return fmt.Errorf("steam id %s not found", steamID)
			}
			entity.DisplayName = st.Meta["persona"]
		}

		out, err := editDashboard(channelID, func(s *session.Session) session.Outcome {
			return s.Track(entity)
		})
		if err != nil {
			return err
		}
		if out.Kind == session.OutcomeNone {
			fmt.Fprintf(os.Stdout, "%s already tracks %s for %s.\n", channelID, steamID, ownerID)
			return nil
		}
		fmt.Fprintf(os.Stdout, "Tracking %s for %s in %s.\n", steamID, ownerID, channelID)
		return nil
	},
}

var trackRemoveCmd = &cobra.Command{
	Use:   "remove <channel-id> <owner-id>",
	Short: "Stop tracking an owner's Steam account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := editDashboard(args[0], func(s *session.Session) session.Outcome {
			return s.Untrack(args[1])
		})
		if err != nil {
			return err
		}
		if out.Kind == session.OutcomeNone {
			return fmt.Errorf("%s is not tracked in %s", args[1], args[0])
		}
		fmt.Fprintf(os.Stdout, "Stopped tracking %s in %s.\n", args[1], args[0])
		return nil
	},
}

var trackListCmd = &cobra.Command{
	Use:   "list [channel-id]",
	Short: "List tracked Steam accounts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		snaps, err := openSnapshots(cfg)
		if err != nil {
			return err
		}
		defer snaps.Close()

		all, err := snaps.Load(cmd.Context())
		if err != nil {
			return fmt.Errorf("load sessions: %w", err)
		}
		var rows [][]string
		for key, snap := range all {
			if key.Feature() != types.FeatureDashboard {
				continue
			}
			if len(args) == 1 && key.Context() != args[0] {
				continue
			}
			for _, e := range snap.Tracked {
				label := "-"
				if e.LastKnownLabel != nil {
					label = *e.LastKnownLabel
				}
				rows = append(rows, []string{key.Context(), e.OwnerID, e.ExternalID, e.DisplayName, label, humanize.Time(snap.UpdatedAt)})
			}
		}
		if len(rows) == 0 {
			fmt.Println("Nobody is tracked.")
			return nil
		}
		sort.Slice(rows, func(i, j int) bool {
			if rows[i][0] != rows[j][0] {
				return rows[i][0] < rows[j][0]
			}
			return rows[i][1] < rows[j][1]
		})
		fmt.Println(renderTable([]string{"Channel", "Owner", "Steam ID", "Name", "Playing", "Updated"}, rows, nil))
		return nil
	},
}
