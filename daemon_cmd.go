package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	daemonListen string

	daemonCmd = &cobra.Command{
		Use:   "daemon",
		Short: "Watch the network and prefetch on a schedule",
		Long: paragraph(fmt.Sprintf("\nRun in the background: %s, follow offline mode, prefetch and sweep the cache on "+
			"the configured schedules, and serve a small control and metrics endpoint.", keyword("probe connectivity"))),
		Example: paragraph("lullaby daemon\nlullaby daemon --listen :9464\nlullaby daemon --listen \"\""),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			listen := a.Config.Metrics.Listen
			if cmd.Flags().Changed("listen") {
				listen = daemonListen
			}
			return a.Daemon(cmd.Context(), listen)
		},
	}
)

func init() {
	daemonCmd.Flags().StringVar(&daemonListen, "listen", "", "address for the control and metrics endpoint (default from config, empty disables)")
}
