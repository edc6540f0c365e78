package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corey/curserve/internal/app"
	"github.com/corey/curserve/internal/domain/codebase"
)

var (
	flagIgnoreCase bool
	flagMaxResults int
	flagGrepRoot   string
	flagLocal      bool
)

var grepCmd = &cobra.Command{
	Use:   "grep <pattern>",
	Short: "Search the mapped codebase for a pattern",
	Long: `Searches every mapped file for the pattern (literal or regex) and prints
matches as path:line:text. Goes through the daemon when one is running;
otherwise maps the tree in-process for a one-shot search.`,
	Args: cobra.ExactArgs(1),
	RunE: runGrep,
}

func init() {
	grepCmd.Flags().BoolVarP(&flagIgnoreCase, "ignore-case", "i", false, "case-insensitive matching")
	grepCmd.Flags().IntVar(&flagMaxResults, "max", codebase.DefaultMaxResults, "maximum matches to return")
	grepCmd.Flags().StringVar(&flagGrepRoot, "root", "", "codebase root (default: current directory)")
	grepCmd.Flags().BoolVar(&flagLocal, "local", false, "search in-process without the daemon")
}

func runGrep(cmd *cobra.Command, args []string) error {
	pattern := args[0]
	root, err := resolveRoot(rootArgs())
	if err != nil {
		return err
	}

	client := newClient()
	defer client.Close()

	if flagLocal || !client.Ping() {
		return grepLocal(root, pattern)
	}

	if _, err := client.Alloc(root); err != nil {
		return err
	}
	resp, err := client.Search(pattern, !flagIgnoreCase, flagMaxResults)
	if err != nil {
		return err
	}
	for _, m := range resp.Matches {
		fmt.Printf("%s:%d:%s\n", m.Path, m.Line, m.Text)
	}
	printSummary(len(resp.Matches), resp.TotalMatches, resp.FilesScanned, resp.Elapsed)
	return nil
}

func grepLocal(root, pattern string) error {
	e, err := app.Open(root, codebase.Options{})
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.Search(pattern, !flagIgnoreCase, flagMaxResults)
	if err != nil {
		return err
	}
	for _, m := range res.Matches {
		fmt.Printf("%s:%d:%s\n", m.Path, m.LineNumber, m.Line)
	}
	printSummary(len(res.Matches), res.TotalMatches, res.FilesScanned, res.Elapsed.String())
	return nil
}

func rootArgs() []string {
	if flagGrepRoot != "" {
		return []string{flagGrepRoot}
	}
	return nil
}

func printSummary(shown, total, files int, elapsed string) {
	if total > shown {
		fmt.Printf("%d matches (%d shown) across %d files in %s\n", total, shown, files, elapsed)
		return
	}
	fmt.Printf("%d matches across %d files in %s\n", total, files, elapsed)
}
