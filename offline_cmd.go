package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nightlight-labs/lullaby/internal/app"
)

var offlineCmd = &cobra.Command{
	Use:   "offline [on|off|toggle|status]",
	Short: "Switch offline mode",
	Long: paragraph(fmt.Sprintf("\nWhile %s is on, lullaby never touches the network and serves only what is cached. "+
		"The setting is remembered, and a running daemon picks it up immediately.", keyword("offline mode"))),
	ValidArgs: []string{"on", "off", "toggle", "status"},
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		action := "status"
		if len(args) == 1 {
			action = args[0]
		}
		switch action {
		case "on":
			err = a.Network.EnableOfflineMode()
		case "off":
			err = a.Network.DisableOfflineMode()
		case "toggle":
			_, err = a.Network.ToggleOfflineMode()
		case "status":
			a.Probe(cmd.Context())
		}
		if err != nil {
			return err
		}
		return printNetwork(cmd, a)
	},
}

func printNetwork(cmd *cobra.Command, a *app.App) error {
	s := a.Network.State()
	mode := keyword("off")
	if s.OfflineModeEnabled {
		mode = warning("on")
	}
	w := cmd.OutOrStdout()
	fmt.Fprintln(w, label("offline"), mode)
	if s.Connectivity != "" {
		fmt.Fprintln(w, label("network"), s.Connectivity, faint("via "+string(s.Transport)))
	}
	fmt.Fprintln(w, label("fetching"), yesNo(a.Network.CanPerformNetworkRequest()))
	fmt.Fprintln(w, label("syncing"), yesNo(a.Network.CanPerformSync()))
	return nil
}

func yesNo(b bool) string {
	if b {
		return keyword("allowed")
	}
	return warning("paused")
}
