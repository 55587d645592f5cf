package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/kode4food/changemaster/hook"
)

var errNothingIngested = errors.New("payload produced no change")

func newIngestCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [file]",
		Short: "Ingest a JSON change payload from a file or standard input",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			data, err := readPayload(cmd, args)
			if err != nil {
				return err
			}

			s, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer func() {
				err = multierr.Append(err, s.close())
			}()

			src := hook.NewSource(s.logger.Named("hook"))
			if _, err := s.AddSource(src); err != nil {
				return err
			}
			if err := s.Start(cmd.Context()); err != nil {
				return err
			}

			changes := src.Submit(cmd.Context(), data)
			if len(changes) == 0 {
				return errNothingIngested
			}
			for _, ch := range changes {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "change %d\n", ch.ID)
			}
			return nil
		},
	}
}

func readPayload(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(args[0])
}
