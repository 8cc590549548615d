package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nightlight-labs/lullaby/internal/prefetch"
)

var (
	prefetchSubjects []string
	prefetchThemes   []string
	prefetchVoices   []string

	prefetchCmd = &cobra.Command{
		Use:   "prefetch",
		Short: "Fill the cache for tonight",
		Long: paragraph(fmt.Sprintf("\n%s stories and narration for every subject and theme in the config, "+
			"so they are ready without a connection. Press ctrl+c to stop after the current item.", keyword("Prefetch"))),
		Example: paragraph("lullaby prefetch\nlullaby prefetch --subject \"a shy turtle\" --theme courage"),
		Args:    cobra.NoArgs,
		RunE:    runPrefetch,
	}
)

func init() {
	prefetchCmd.Flags().StringSliceVar(&prefetchSubjects, "subject", nil, "subjects to prefetch (default from config)")
	prefetchCmd.Flags().StringSliceVar(&prefetchThemes, "theme", nil, "themes to prefetch (default from config)")
	prefetchCmd.Flags().StringSliceVar(&prefetchVoices, "voice", nil, "voices to narrate with (default from config)")
}

func runPrefetch(cmd *cobra.Command, _ []string) error {
	a, err := probedApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	if !a.Network.CanPerformNetworkRequest() {
		return fmt.Errorf("cannot prefetch right now: %s", a.Network.State())
	}

	dims := a.Dimensions()
	if len(prefetchSubjects) > 0 {
		dims.Subjects = prefetchSubjects
	}
	if len(prefetchThemes) > 0 {
		dims.Themes = prefetchThemes
	}
	if len(prefetchVoices) > 0 {
		dims.Voices = prefetchVoices
	}

	interactive := term.IsTerminal(int(os.Stderr.Fd()))
	onProgress := func(p prefetch.Progress) {
		if !interactive {
			logger.Info("Prefetched", "job", p.Completed, "of", p.Total, "kind", p.Job.Kind, "outcome", p.Outcome)
			return
		}
		status := describe(p.Outcome)
		if p.Skipped {
			status = faint("skipped")
		}
		fmt.Fprintf(os.Stderr, "%s %s %s\n", faint(fmt.Sprintf("[%d/%d]", p.Completed, p.Total)), jobTitle(p.Job), status)
	}

	if err := a.Prefetch.Start(cmd.Context(), dims, onProgress, nil); err != nil {
		return err
	}
	report := a.Prefetch.Wait()

	fmt.Fprintf(os.Stderr, "%s %d of %d done, %d failed, %d skipped in %s\n",
		label(string(report.Status)), report.Completed, report.Total, report.Failed, report.Skipped,
		report.Duration.Round(10*time.Millisecond))
	if report.Status == prefetch.StatusOffline {
		return fmt.Errorf("went offline after %d of %d items", report.Completed, report.Total)
	}
	return nil
}

func jobTitle(j prefetch.Job) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{j.Story.Character, j.Story.Theme} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	title := strings.Join(parts, ", ")
	if j.Kind == prefetch.JobSpeech {
		return title + faint(" narrated by "+j.Voice)
	}
	return title
}
