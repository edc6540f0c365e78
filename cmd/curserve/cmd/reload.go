package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Rebuild this client's codebase from disk",
	RunE:  runReload,
}

func runReload(cmd *cobra.Command, args []string) error {
	client := newClient()
	defer client.Close()

	resp, err := client.Reload()
	if err != nil {
		return err
	}
	fmt.Printf("remapped %d files (%.2f MB)\n", resp.FileCount, float64(resp.TotalBytes)/1024/1024)
	return nil
}
