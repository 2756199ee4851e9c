package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/apiprobe/apiprobe/internal/observability"
	"github.com/apiprobe/apiprobe/internal/tokencache"
)

// newCacheCmd creates the `cache` command group for token cache maintenance.
func newCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the persisted OAuth token cache",
	}

	clearCmd := &cobra.Command{
		Use:   "clear [api-id]",
		Short: "Remove cached tokens (all of them, or just one API's)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cache := tokencache.New(viper.GetString("token_cache.path"), observability.GetLogger())

			if len(args) == 1 {
				cache.Clear(args[0])
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared cached token for %s\n", args[0])
				return nil
			}

			cache.ClearAll()
			fmt.Fprintln(cmd.OutOrStdout(), "Cleared all cached tokens")
			return nil
		},
	}

	cacheCmd.AddCommand(clearCmd)
	return cacheCmd
}
