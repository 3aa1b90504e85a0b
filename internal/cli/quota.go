package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-parley/pkg/app"
)

// NewQuotaCmd prints the conversation time left today.
func NewQuotaCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Show conversation time left today",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), deps, func(a *app.App) error {
				secs, err := a.Remaining(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out(cmd), "%s left today\n", time.Duration(secs)*time.Second)
				return nil
			})
		},
	}
}
