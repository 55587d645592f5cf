package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/kode4food/changemaster"
)

var errNoHorizon = errors.New("change horizon is not set")

func newPruneCmd(g *globalFlags) *cobra.Command {
	var latest, horizon int64

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove changes that fall outside the change horizon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			s, err := g.open(cmd, func(cfg *changemaster.Config) {
				if cmd.Flags().Changed("horizon") {
					cfg.ChangeHorizon = horizon
				}
			})
			if err != nil {
				return err
			}
			defer func() {
				err = multierr.Append(err, s.close())
			}()

			if s.Pruner().Horizon() == 0 {
				return errNoHorizon
			}

			ctx := cmd.Context()
			to := changemaster.ChangeID(latest)
			if to == changemaster.NoChange {
				if to, err = s.GetLatestChangeNumber(ctx); err != nil {
					return err
				}
			}

			removed := s.Pruner().Prune(ctx, to)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %d changes\n", len(removed))
			return nil
		},
	}

	f := cmd.Flags()
	f.Int64Var(&latest, "latest", 0, "prune relative to this id (default: latest stored)")
	f.Int64Var(&horizon, "horizon", 0, "number of recent changes to keep")
	return cmd
}
