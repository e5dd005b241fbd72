package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/spf13/cobra"

	"github.com/user/stevebot/internal/config"
)

func init() {
	rootCmd.AddCommand(stopCmd, restartCmd, statusCmd)
}

// readPID reads the PID from the stevebot.pid file and validates the
// process exists by sending signal 0.
func readPID(cfg *config.Config) (int, error) {
	data, err := os.ReadFile(pidPath(cfg.DataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("no running daemon (PID file not found)")
		}
		return 0, fmt.Errorf("read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return 0, fmt.Errorf("no running daemon (process %d not found)", pid)
	}

	return pid, nil
}

func signalDaemon(sig syscall.Signal) (int, error) {
	pid, err := readPID(loadConfig())
	if err != nil {
		return 0, err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("find process: %w", err)
	}
	if err := proc.Signal(sig); err != nil {
		return 0, fmt.Errorf("send %s: %w", sig, err)
	}
	return pid, nil
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := signalDaemon(syscall.SIGTERM)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Sent SIGTERM to daemon (PID %d).\n", pid)
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := signalDaemon(syscall.SIGHUP)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Sent SIGHUP to daemon (PID %d) for restart.\n", pid)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon is running and what it uses",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		pid, err := readPID(cfg)
		if err != nil {
			fmt.Fprintln(os.Stdout, "stevebot is not running:", err)
			return nil
		}

		proc, err := process.NewProcess(int32(pid))
		if err != nil {
			return fmt.Errorf("inspect process %d: %w", pid, err)
		}
		rows := [][]string{{"PID", strconv.Itoa(pid)}}
		if created, err := proc.CreateTime(); err == nil {
			rows = append(rows, []string{"Started", humanize.Time(time.UnixMilli(created))})
		}
		if cpu, err := proc.CPUPercent(); err == nil {
			rows = append(rows, []string{"CPU", fmt.Sprintf("%.1f%%", cpu)})
		}
		if mem, err := proc.MemoryInfo(); err == nil {
			rows = append(rows, []string{"Memory", humanize.IBytes(mem.RSS)})
		}
		if n, err := proc.NumThreads(); err == nil {
			rows = append(rows, []string{"Threads", strconv.Itoa(int(n))})
		}
		rows = append(rows,
			[]string{"Data dir", cfg.DataDir},
			[]string{"Snapshots", cfg.Snapshot.Backend},
		)
		fmt.Fprintln(os.Stdout, renderTable([]string{"Field", "Value"}, rows, nil))
		return nil
	},
}
