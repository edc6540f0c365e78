package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var allocCmd = &cobra.Command{
	Use:   "alloc [root]",
	Short: "Allocate (or refresh) a memory-mapped codebase for this client",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAlloc,
}

var deallocCmd = &cobra.Command{
	Use:   "dealloc",
	Short: "Release this client's codebase",
	RunE:  runDealloc,
}

func runAlloc(cmd *cobra.Command, args []string) error {
	root, err := resolveRoot(args)
	if err != nil {
		return err
	}

	client := newClient()
	defer client.Close()

	resp, err := client.Alloc(root)
	if err != nil {
		return err
	}
	fmt.Printf("mapped %d files (%.2f MB)\n", resp.FileCount, float64(resp.TotalBytes)/1024/1024)
	return nil
}

func runDealloc(cmd *cobra.Command, args []string) error {
	client := newClient()
	defer client.Close()

	if _, err := client.Dealloc(); err != nil {
		return err
	}
	fmt.Println("deallocated")
	return nil
}

func resolveRoot(args []string) (string, error) {
	if len(args) > 0 {
		return filepath.Abs(args[0])
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return dir, nil
}
