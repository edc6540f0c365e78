package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/corey/curserve/internal/app"
)

var (
	flagDBPath      string
	flagMaxFileMB   int64
	flagDispatchers int
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the curserve daemon",
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	RunE:  runDaemonStop,
}

func init() {
	daemonStartCmd.Flags().StringVar(&flagDBPath, "db", app.DefaultDBPath(), "allocation store path (empty to disable persistence)")
	daemonStartCmd.Flags().Int64Var(&flagMaxFileMB, "max-file-size", 50, "per-file mapping ceiling in MB")
	daemonStartCmd.Flags().IntVar(&flagDispatchers, "dispatchers", 4, "request dispatcher pool size")

	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	client := newClient()
	if client.Ping() {
		fmt.Println("daemon already running")
		return nil
	}

	a, err := app.New(app.Config{
		SocketPath:  flagSocket,
		ReplyDir:    flagReplyDir,
		DBPath:      flagDBPath,
		MaxFileSize: flagMaxFileMB << 20,
		Workers:     flagDispatchers,
	})
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if err := a.Start(); err != nil {
		return err
	}

	fmt.Printf("curserve daemon started at %s\n", a.Server.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-a.ShutdownCh():
	}

	fmt.Println("shutting down...")
	return a.Stop()
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	client := newClient()
	if !client.Ping() {
		fmt.Println("daemon is not running")
		return nil
	}
	if err := client.Shutdown(); err != nil {
		return err
	}
	fmt.Println("daemon stopped")
	return nil
}
