package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/corey/curserve/internal/adapters/socket"
)

var (
	flagSocket   string
	flagReplyDir string
	flagClient   string
)

var rootCmd = &cobra.Command{
	Use:   "curserve",
	Short: "curserve — resident memory-mapped codebase search",
	Long:  "Maps a codebase into memory once and serves repeated regex searches over it.",
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagSocket, "socket", socket.DefaultSocketPath(), "shared request socket path")
	pf.StringVar(&flagReplyDir, "reply-dir", os.TempDir(), "directory for reply sockets")
	pf.StringVar(&flagClient, "client", "", "client identifier (default: process pid)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(allocCmd)
	rootCmd.AddCommand(grepCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(deallocCmd)
	rootCmd.AddCommand(healthCmd)
}

// clientID returns the identifier for this process's tenant binding.
func clientID() string {
	if flagClient != "" {
		return flagClient
	}
	return fmt.Sprintf("pid-%d", os.Getpid())
}

func newClient() *socket.Client {
	return socket.NewClient(flagSocket, flagReplyDir, clientID())
}
