package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/narratekit/narrate/store"
)

var (
	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the narration cache",
	}

	cacheLsCmd = &cobra.Command{
		Use:   "ls",
		Short: "List cached narration entries",
		Args:  cobra.NoArgs,
		RunE:  runCacheLs,
	}

	cacheRmCmd = &cobra.Command{
		Use:   "rm CONTENT_ID...",
		Short: "Remove cached entries",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCacheRm,
	}

	cacheClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached entry",
		Args:  cobra.NoArgs,
		RunE:  runCacheClear,
	}
)

func init() {
	cacheCmd.AddCommand(cacheLsCmd, cacheRmCmd, cacheClearCmd)
}

func openCacheStore() (*store.AudioStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.DataDir)
}

func runCacheLs(cmd *cobra.Command, _ []string) error {
	s, err := openCacheStore()
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	metas, err := s.AllMetadata()
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		fmt.Println("The cache is empty.")
		return nil
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CONTENT ID\tSEGMENTS\tDURATION\tSIZE\tCREATED")
	var totalSize int64
	for _, m := range metas {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
			m.ContentID,
			m.SegmentCount,
			formatClock(m.TotalDurationSeconds),
			humanize.Bytes(uint64(m.SizeBytes)), //nolint:gosec
			humanize.Time(m.CreatedAt))
		totalSize += m.SizeBytes
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%d entries, %s", len(metas), humanize.Bytes(uint64(totalSize))) //nolint:gosec
	if info := s.QuotaInfo(); info.Supported {
		fmt.Printf(" (%s free on disk)", humanize.Bytes(uint64(info.TotalBytes-info.UsageBytes))) //nolint:gosec
	}
	fmt.Println()
	return nil
}

func runCacheRm(_ *cobra.Command, args []string) error {
	s, err := openCacheStore()
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	for _, contentID := range args {
		if err := s.Delete(contentID); err != nil {
			return err
		}
		fmt.Printf("Removed %q.\n", contentID)
	}
	return nil
}

func runCacheClear(_ *cobra.Command, _ []string) error {
	s, err := openCacheStore()
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	if err := s.ClearAll(); err != nil {
		return err
	}
	fmt.Println("Cache cleared.")
	return nil
}
