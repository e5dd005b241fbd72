package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/user/stevebot/internal/api"
	"github.com/user/stevebot/internal/cache"
	"github.com/user/stevebot/internal/commands"
	"github.com/user/stevebot/internal/config"
	"github.com/user/stevebot/internal/dashboard"
	"github.com/user/stevebot/internal/delivery"
	"github.com/user/stevebot/internal/discord"
	"github.com/user/stevebot/internal/gateway"
	"github.com/user/stevebot/internal/giveaway"
	"github.com/user/stevebot/internal/idle"
	"github.com/user/stevebot/internal/lavalink"
	"github.com/user/stevebot/internal/nickname"
	"github.com/user/stevebot/internal/player"
	"github.com/user/stevebot/internal/render"
	"github.com/user/stevebot/internal/scheduler"
	"github.com/user/stevebot/internal/scoreboard"
	"github.com/user/stevebot/internal/session"
	"github.com/user/stevebot/internal/state"
	"github.com/user/stevebot/internal/steam"
	"github.com/user/stevebot/internal/telegram"
	"github.com/user/stevebot/internal/voicetrap"
	"github.com/user/stevebot/pkg/llm"
	"github.com/user/stevebot/pkg/llm/openai"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the stevebot daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func pidPath(dataDir string) string {
	return filepath.Join(dataDir, "stevebot.pid")
}

func writePIDFile(dataDir string) (string, error) {
	path := pidPath(dataDir)
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return path, nil
}

// daemonLock is held for the lifetime of serve so two daemons never share a
// data directory.
func daemonLock(dataDir string) (*flock.Flock, error) {
	lock := flock.New(filepath.Join(dataDir, "stevebot.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !ok {
		return nil, errors.New("another stevebot daemon is already running")
	}
	return lock, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if cfg.Discord.Token == "" {
		return errors.New("discord.token is not set (run `stevebot setup` or set STEVE_TOKEN)")
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	lock, err := daemonLock(cfg.DataDir)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	pidFile, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Sessions
	snapshots, err := state.Open(cfg.Snapshot.Backend, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer snapshots.Close()
	store := session.NewStore(snapshots)
	if err := store.Load(ctx); err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	gw := gateway.New(int64(cfg.MaxConcurrent))
	gw.Start(ctx)
	defer gw.Stop()

	sup := idle.New()
	defer sup.Stop()

	// Chat surfaces
	dc, err := discord.New(discord.Options{
		Token:            cfg.Discord.Token,
		GuildID:          cfg.Discord.GuildID,
		MusicChannelName: cfg.Music.ChannelName,
		ClipsChannelID:   cfg.Discord.ClipsChannelID,
	})
	if err != nil {
		return fmt.Errorf("create discord adapter: %w", err)
	}
	surfaces := delivery.NewRegistry(dc)
	recon := render.NewReconciler(surfaces)

	// Voice
	ll := lavalink.NewClient(cfg.Lavalink.URL, cfg.Lavalink.Password, cfg.Lavalink.ConnectTimeout)
	node := lavalink.NewNode(ll, dc, "")
	go node.Run(ctx)
	if v, err := ll.Version(ctx); err != nil {
		slog.Warn("lavalink unreachable, music will wait for it", "host", node.Host(), "error", err)
	} else {
		slog.Info("lavalink connected", "host", node.Host(), "version", v)
	}

	// Features
	players := player.New(store, gw, lavalink.NewResolver(ll), node, recon, sup, player.Options{
		IdleTimeout:    cfg.Music.IdleTimeout,
		ConnectTimeout: cfg.Lavalink.ConnectTimeout,
		Render: render.PlayerOptions{
			IdleImage: cfg.Music.IdleImage,
			Preview:   cfg.Music.QueuePreview,
		},
		CleanupOnEmpty: cfg.Music.CleanupOnEmpty,
	})
	giveaways := giveaway.New(store, gw, recon, sup)
	scoreboards := scoreboard.New(store, gw, recon)
	traps := voicetrap.New(dc.Movers())

	var statuses *cache.StatusCache
	var dashboards *dashboard.Service
	if cfg.Steam.APIKey != "" {
		statuses = cache.NewStatusCache(steam.NewClient(cfg.Steam.APIKey, cfg.Steam.RequestTimeout), cfg.Steam.CacheTTL)
		dashboards = dashboard.New(store, gw, statuses, recon, surfaces, dashboard.Options{
			TrackedGames:   cfg.Steam.TrackedGames,
			NotifyLaunches: cfg.Steam.NotifyLaunches,
			Parallel:       cfg.MaxConcurrent,
		})
	} else {
		slog.Warn("steam dashboards disabled (no api key)")
	}

	var nicknames *nickname.Service
	if cfg.LLM.APIKey != "" {
		nicknames = newNicknames(cfg, store, gw, dc, sup)
	} else {
		slog.Warn("themed nicknames disabled (no llm api key)")
	}

	handler := commands.New(commands.Services{
		Player:     players,
		Giveaways:  giveaways,
		Dashboard:  dashboards,
		Traps:      traps,
		Nicknames:  nicknames,
		Scoreboard: scoreboards,
	})
	dc.SetCommands(handler)
	dc.SetVoice(node)
	dc.SetTraps(traps)
	dc.SetMusic(players)

	if cfg.Telegram.Token != "" {
		tg, err := telegram.New(cfg.Telegram.Token, handler)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		surfaces.Register(telegram.Prefix, tg)
		go tg.Start(ctx)
		slog.Info("telegram adapter started")
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	if err := dc.Open(ctx); err != nil {
		return err
	}
	defer dc.Close()

	// Restore what was running before the last shutdown.
	players.Resume(ctx)
	giveaways.Recover(ctx)
	scoreboards.Recover(ctx)
	if cfg.Scoreboard.ChannelID != "" && cfg.Discord.GuildID != "" {
		if err := scoreboards.Setup(ctx, cfg.Discord.GuildID, cfg.Scoreboard.ChannelID); err != nil {
			slog.Error("post scoreboard", "channel", cfg.Scoreboard.ChannelID, "error", err)
		}
	}
	if nicknames != nil {
		nicknames.Recover(ctx)
	}

	sched := scheduler.New()
	if dashboards != nil {
		if err := sched.Add(scheduler.Job{
			Name:     "dashboard-poll",
			Schedule: scheduler.Every(cfg.Steam.PollInterval),
			Run: func() {
				if err := dashboards.Tick(ctx); err != nil {
					slog.Warn("dashboard poll failed", "error", err)
				}
			},
		}); err != nil {
			return err
		}
		if err := sched.Add(scheduler.Job{
			Name:     "status-cache-purge",
			Schedule: scheduler.Every(cfg.Steam.CacheTTL),
			Run: func() {
				if n := statuses.Purge(); n > 0 {
					slog.Debug("purged status cache", "entries", n)
				}
			},
		}); err != nil {
			return err
		}
	}
	sched.Start()
	defer sched.Stop()

	if cfg.HTTP.Enabled {
		srv := &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           api.NewServer(store, players, gw.Queue.Lanes),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("api server started", "listen", cfg.HTTP.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("api server error", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
	}

	slog.Info("stevebot started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"snapshot_backend", cfg.Snapshot.Backend,
		"max_concurrent", cfg.MaxConcurrent,
		"sessions", len(store.Keys("")),
		"jobs", len(sched.Entries()),
		"surfaces", surfaces.Prefixes(),
		"pid_file", pidFile,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			os.Remove(pidFile)
			lock.Unlock()
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				if _, err := lock.TryLock(); err != nil {
					slog.Error("failed to re-take daemon lock", "error", err)
				}
				if _, err := writePIDFile(cfg.DataDir); err != nil {
					slog.Error("failed to re-write PID file", "error", err)
				}
				continue
			}
		}
		slog.Info("shutting down", "signal", sig)
		if !gw.Queue.WaitIdle(5 * time.Second) {
			slog.Warn("session lanes still busy at shutdown")
		}
		return nil
	}
}

func newNicknames(cfg *config.Config, store *session.Store, gw *gateway.Gateway, dc *discord.Adapter, sup *idle.Supervisor) *nickname.Service {
	provider := openai.New(&llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})
	prompter, err := nickname.NewPrompter(cfg.LLM.Model, cfg.Nickname.MaxThemeTokens)
	if err != nil {
		slog.Warn("nickname theme tokenizer unavailable, themes are not capped", "model", cfg.LLM.Model, "error", err)
	}
	return nickname.New(store, gw, dc.Members(), provider, prompter, sup, nickname.Options{
		Duration: cfg.Nickname.Duration,
	})
}
