package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-parley/pkg/app"
)

// NewSessionsCmd lists finished sessions, newest first.
func NewSessionsCmd(deps *Dependencies) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List past conversations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), deps, func(a *app.App) error {
				recs, err := a.Store().Sessions(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Fprintln(out(cmd), "No sessions yet")
					return nil
				}
				tw := tabwriter.NewWriter(out(cmd), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "STARTED\tCHARACTER\tTOPIC\tLENGTH\tREASON\tSUMMARY")
				for _, r := range recs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						r.StartedAt.Local().Format("2006-01-02 15:04"),
						r.Character, r.Topic, r.Duration().Round(time.Second), r.Reason, ellipsize(r.Summary, 60))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of sessions to show")
	return cmd
}

func ellipsize(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
