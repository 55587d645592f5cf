package commands

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/kode4food/changemaster"
)

func newShowCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID...",
		Short: "Print stored changes as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ids, err := parseIDs(args)
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

			changes, err := s.GetChangesByNumber(cmd.Context(), ids)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			var missing error
			for i, ch := range changes {
				if ch == nil {
					missing = multierr.Append(missing,
						fmt.Errorf("change %d: %w", ids[i], changemaster.ErrChangeNotFound),
					)
					continue
				}
				if err := enc.Encode(ch); err != nil {
					return err
				}
			}
			return missing
		},
	}
}

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var (
		since      int64
		branches   []string
		categories []string
		authors    []string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored changes in id order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			s, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer func() {
				err = multierr.Append(err, s.close())
			}()

			filter := changemaster.Filter{
				Branches:   branches,
				Categories: categories,
				Committers: authors,
			}
			out := cmd.OutOrStdout()
			for ch, err := range s.EventGenerator(cmd.Context(), filter) {
				if err != nil {
					return err
				}
				if int64(ch.ID) <= since {
					continue
				}
				_, _ = fmt.Fprintf(out, "%d\t%s\t%s\t%s\n",
					ch.ID, ch.Revision, ch.Author, ch.Branch,
				)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.Int64Var(&since, "since", 0, "only list changes after this id")
	f.StringSliceVar(&branches, "branch", nil, "only list these branches")
	f.StringSliceVar(&categories, "category", nil, "only list these categories")
	f.StringSliceVar(&authors, "author", nil, "only list these authors")
	return cmd
}

func newLatestCmd(g *globalFlags) *cobra.Command {
	var branch string

	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Print the latest stored change id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			s, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer func() {
				err = multierr.Append(err, s.close())
			}()

			var id changemaster.ChangeID
			if cmd.Flags().Changed("branch") {
				id, err = s.GetLatestChangeNumberOnBranch(cmd.Context(), branch)
			} else {
				id, err = s.GetLatestChangeNumber(cmd.Context())
			}
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringVar(&branch, "branch", "", "latest change on this branch")
	return cmd
}

func parseIDs(args []string) ([]changemaster.ChangeID, error) {
	res := make([]changemaster.ChangeID, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid change id %q", arg)
		}
		res = append(res, changemaster.ChangeID(id))
	}
	return res, nil
}
