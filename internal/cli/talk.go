package cli

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-parley/pkg/app"
	"github.com/teslashibe/go-parley/pkg/conversation"
)

// NewTalkCmd runs one conversation in the terminal.
func NewTalkCmd(deps *Dependencies) *cobra.Command {
	var character, topic, transport string
	cmd := &cobra.Command{
		Use:   "talk",
		Short: "Start a voice conversation in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if transport != "" {
				deps.Config.Session.Transport = transport
				if err := deps.Config.Validate(); err != nil {
					return err
				}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, deps, func(a *app.App) error {
				rec, err := a.Talk(ctx, character, topic, out(cmd))
				if err != nil {
					if conversation.IsQuotaExceeded(err) {
						return errors.New("no conversation time left today")
					}
					return err
				}
				w := out(cmd)
				fmt.Fprintf(w, "\nsession %s ended (%s) after %s\n", rec.SessionID, rec.Reason, rec.Duration().Round(time.Second))
				if rec.Summary != "" {
					fmt.Fprintf(w, "summary: %s\n", rec.Summary)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&character, "character", "c", "", "who to talk to")
	cmd.Flags().StringVarP(&topic, "topic", "t", "", "what to talk about")
	cmd.Flags().StringVar(&transport, "transport", "", "socket or peer (overrides session.transport)")
	_ = cmd.MarkFlagRequired("character")
	return cmd
}
