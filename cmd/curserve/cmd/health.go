package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show daemon status",
	RunE:  runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	client := newClient()
	defer client.Close()

	if !client.Ping() {
		fmt.Println("daemon is not running")
		return nil
	}
	resp, err := client.Health()
	if err != nil {
		return err
	}
	fmt.Printf("daemon up %s, %d tenant(s)\n", resp.Uptime, resp.Tenants)
	return nil
}
