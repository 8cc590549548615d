package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nightlight-labs/lullaby/internal/cache"
	"github.com/nightlight-labs/lullaby/internal/records"
)

var (
	cacheListRecords bool
	cacheListLimit   int

	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage cached stories and narration",
		Args:  cobra.NoArgs,
	}

	cacheSizeCmd = &cobra.Command{
		Use:   "size",
		Short: "Show how much space the cache uses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			w := cmd.OutOrStdout()
			for _, s := range a.Cache.Stats() {
				limits := a.Cache.Limits(s.Category)
				fmt.Fprintf(w, "%s %8s of %-8s %s\n",
					label(string(s.Category)),
					humanize.Bytes(uint64(s.Disk.Size)),     //nolint:gosec
					humanize.Bytes(uint64(limits.MaxBytes)), //nolint:gosec
					faint(fmt.Sprintf("%d entries", s.Disk.ItemCount)),
				)
			}
			fmt.Fprintf(w, "%s %8s\n", label("total"), humanize.Bytes(uint64(a.Cache.Size()))) //nolint:gosec
			return nil
		},
	}

	cacheClearCmd = &cobra.Command{
		Use:       "clear [CATEGORY...]",
		Short:     "Empty the cache, or only the given categories",
		ValidArgs: []string{string(cache.CategoryStory), string(cache.CategorySpeech), string(cache.CategoryImage)},
		Args:      cobra.OnlyValidArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cats, err := parseCategories(args)
			if err != nil {
				return err
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			before := a.Cache.Size(cats...)
			if err := a.Cache.Clear(cats...); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Freed", humanize.Bytes(uint64(before))) //nolint:gosec
			return nil
		},
	}

	cacheSweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Remove entries past their age limit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			fmt.Fprintln(cmd.OutOrStdout(), "Removed", a.Cache.Sweep(), "expired entries")
			return nil
		},
	}

	cacheListCmd = &cobra.Command{
		Use:       "ls [CATEGORY]",
		Short:     "List cached entries, or saved records with --records",
		ValidArgs: []string{string(cache.CategoryStory), string(cache.CategorySpeech), string(cache.CategoryImage)},
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			cats, err := parseCategories(args)
			if err != nil {
				return err
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			if cacheListRecords {
				if a.Records == nil {
					return fmt.Errorf("records are unavailable at %s", a.Config.Records.Path)
				}
				opts := records.ListOptions{Limit: cacheListLimit}
				if len(cats) == 1 {
					opts.Category = string(cats[0])
				}
				recs, err := a.Records.List(cmd.Context(), opts)
				if err != nil {
					return err
				}
				for _, r := range recs {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s %8s %s %s\n",
						label(r.Category), r.Key[:12], humanize.Bytes(uint64(r.Size)), //nolint:gosec
						faint(humanize.Time(r.CreatedAt)), recordTitle(r))
				}
				return nil
			}

			if len(cats) == 0 {
				cats = cache.Categories()
			}
			shown := 0
			for _, cat := range cats {
				for _, e := range a.Cache.Entries(cat) {
					if cacheListLimit > 0 && shown >= cacheListLimit {
						return nil
					}
					expires := ""
					if e.ExpiresAt != nil {
						expires = "expires " + humanize.Time(*e.ExpiresAt)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s %8s %s %s\n",
						label(string(cat)), e.Key[:12], humanize.Bytes(uint64(e.OriginalSize)), //nolint:gosec
						faint("used "+humanize.Time(e.LastAccessedAt)), faint(expires))
					shown++
				}
			}
			return nil
		},
	}
)

func init() {
	cacheListCmd.Flags().BoolVar(&cacheListRecords, "records", false, "list saved records instead of cache entries")
	cacheListCmd.Flags().IntVarP(&cacheListLimit, "limit", "n", 0, "show at most this many entries")
	cacheCmd.AddCommand(cacheSizeCmd, cacheClearCmd, cacheSweepCmd, cacheListCmd)
}

func parseCategories(args []string) ([]cache.Category, error) {
	cats := make([]cache.Category, 0, len(args))
	for _, arg := range args {
		c, err := cache.ParseCategory(arg)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", err, arg)
		}
		cats = append(cats, c)
	}
	return cats, nil
}

func recordTitle(r records.Record) string {
	if r.Attributes == nil {
		return ""
	}
	if r.Category == string(cache.CategorySpeech) {
		return r.Attributes["voice"]
	}
	title := r.Attributes["character"]
	if t := r.Attributes["theme"]; t != "" {
		if title != "" {
			title += ", "
		}
		title += t
	}
	return title
}
