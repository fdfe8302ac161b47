package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/coinpulse/marketmanager/config"
	"github.com/coinpulse/marketmanager/manager"
)

const stopWait = 10 * time.Second

var daemonCommand = &cli.Command{
	Name:  "daemon",
	Usage: "control the fetch daemon",
	Subcommands: []*cli.Command{
		{
			Name:   "start",
			Usage:  "launch the daemon in the background",
			Flags:  []cli.Flag{daemonBinaryFlag},
			Action: daemonStart,
		},
		{
			Name:   "stop",
			Usage:  "signal the daemon to shut down",
			Action: daemonStop,
		},
		{
			Name:   "restart",
			Usage:  "stop the daemon if running, then start it",
			Flags:  []cli.Flag{daemonBinaryFlag},
			Action: daemonRestart,
		},
		{
			Name:   "status",
			Usage:  "query the daemon over its control socket",
			Action: daemonStatus,
		},
	},
}

var daemonBinaryFlag = &cli.StringFlag{
	Name:  "binary",
	Usage: "daemon executable to launch",
	Value: "marketmanager",
}

func daemonStart(c *cli.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return startDaemon(c, cfg)
}

func daemonStop(c *cli.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	pid, running := daemonPid(cfg)
	if !running {
		return cli.Exit("daemon is not running", 1)
	}
	if err := stopDaemon(cfg, pid); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	fmt.Printf("daemon stopped (pid %d)\n", pid)
	return nil
}

func daemonRestart(c *cli.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if pid, running := daemonPid(cfg); running {
		if err := stopDaemon(cfg, pid); err != nil {
			return cli.Exit(err.Error(), 1)
		}
		fmt.Printf("daemon stopped (pid %d)\n", pid)
	}
	return startDaemon(c, cfg)
}

func daemonStatus(c *cli.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	ctx, cancel := context.WithTimeout(c.Context, 5*time.Second)
	defer cancel()
	stats, err := manager.NewClient(cfg.DaemonAddr()).Status(ctx)
	if err != nil {
		if errors.Is(err, manager.ErrDaemonUnreachable) {
			return cli.Exit("daemon unreachable at "+cfg.DaemonAddr(), 1)
		}
		return cli.Exit(err.Error(), 1)
	}
	fmt.Printf("started:         %s\n", stats.StartTime.UTC().Format(time.RFC3339))
	fmt.Printf("uptime:          %s\n", stats.Uptime)
	fmt.Printf("scheduler pass:  %s\n", stats.SchedulerPass.UTC().Format(time.RFC3339))
	fmt.Printf("poller pass:     %s\n", stats.PollerPass.UTC().Format(time.RFC3339))
	fmt.Printf("dispatched jobs: %d\n", stats.Dispatched)
	fmt.Printf("reaped jobs:     %d\n", stats.Reaped)
	return nil
}

func startDaemon(c *cli.Context, cfg *config.Config) error {
	if pid, running := daemonPid(cfg); running {
		return cli.Exit(fmt.Sprintf("daemon already running (pid %d)", pid), 1)
	}
	path, err := exec.LookPath(c.String("binary"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	var args []string
	if envFile != "" {
		args = append(args, "-env", envFile)
	}
	cmd := exec.Command(path, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	fmt.Printf("daemon started (pid %d)\n", cmd.Process.Pid)
	return cmd.Process.Release()
}

func stopDaemon(cfg *config.Config, pid int) error {
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("could not signal pid %d: %w", pid, err)
	}
	deadline := time.Now().Add(stopWait)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon (pid %d) did not exit within %s", pid, stopWait)
}

// daemonPid reads the pid file and reports whether that process still exists.
func daemonPid(cfg *config.Config) (int, bool) {
	raw, err := os.ReadFile(cfg.PidFile)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, processAlive(pid)
}

func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
