package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"periodcore/internal/core"
	"periodcore/pkg/domain"
)

func newRootCmd() *cobra.Command {
	var (
		o   overrides
		cur *app
	)
	root := &cobra.Command{
		Use:          "periodctl [command] (flags)",
		Short:        "periodic record maintenance tool",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), cmd.ErrOrStderr(), o)
			if err != nil {
				return err
			}
			cur = a
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if cur == nil {
				return nil
			}
			return cur.close()
		},
	}
	root.PersistentFlags().StringVar(&o.storage, "storage", "", "storage driver (memory, sqlite, postgres)")
	root.PersistentFlags().StringVar(&o.sqlitePath, "sqlite-path", "", "sqlite database file")
	root.PersistentFlags().StringVar(&o.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringSliceVar(&o.kinds, "kinds", nil, "kind specs name[:granularity[:gapless]]")

	appFn := func() *app { return cur }
	cobra.EnableCommandSorting = false
	root.AddCommand(
		saveCmd(appFn),
		destroyCmd(appFn),
		listCmd(appFn),
		currentCmd(appFn),
		kindsCmd(appFn),
		exportCmd(appFn),
		restoreCmd(appFn),
		snapshotsCmd(appFn),
	)
	return root
}

func saveCmd(appFn func() *app) *cobra.Command {
	var (
		kind, parent, id, start, end string
		attrs                        []string
	)
	cmd := &cobra.Command{
		Use:   "save",
		Short: "create or update a period and resolve sibling overlaps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFn()
			tl, err := a.timeline(domain.Kind(kind))
			if err != nil {
				return err
			}
			p := domain.Period{Kind: domain.Kind(kind), ID: id}
			if id != "" {
				if existing, ok := a.store.GetPeriod(id); ok {
					p = existing
				}
			}
			if parent != "" {
				p.ParentID = parent
			}
			if start != "" {
				t, err := tl.Parse(start)
				if err != nil {
					return err
				}
				p.SetStart(t)
			}
			if end != "" {
				t, err := tl.Parse(end)
				if err != nil {
					return err
				}
				p.SetEnd(t)
			}
			if len(attrs) > 0 {
				p.Attributes = mergeAttrs(p.Attributes, attrs)
			}
			if p.ParentID == "" {
				return errors.New("--parent is required for new periods")
			}
			out, err := a.svc.SaveOutcome(cmd.Context(), p)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			printPeriods(w, tl, []domain.Period{out.Period})
			printCorrections(w, out.Resolution)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "period kind")
	cmd.Flags().StringVar(&parent, "parent", "", "parent id")
	cmd.Flags().StringVar(&id, "id", "", "period id; an unknown id creates a period with it")
	cmd.Flags().StringVar(&start, "start", "", "start bound (date, date-time, min)")
	cmd.Flags().StringVar(&end, "end", "", "end bound (date, date-time, max)")
	cmd.Flags().StringSliceVar(&attrs, "attr", nil, "attribute key=value, repeatable")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func destroyCmd(appFn func() *app) *cobra.Command {
	var (
		kind string
		try  bool
	)
	cmd := &cobra.Command{
		Use:   "destroy <id>",
		Short: "destroy a period, closing the gap for gapless kinds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			if try {
				ok, err := a.svc.TryDestroy(cmd.Context(), domain.Kind(kind), args[0])
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "kept %s\n", args[0])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "destroyed %s\n", args[0])
				return nil
			}
			out, err := a.svc.DestroyOutcome(cmd.Context(), domain.Kind(kind), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "destroyed %s\n", out.Period.ID)
			printCorrections(cmd.OutOrStdout(), out.Resolution)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "period kind")
	cmd.Flags().BoolVar(&try, "try", false, "report a refused destroy instead of failing")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func listCmd(appFn func() *app) *cobra.Command {
	var kind, parent string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list periods of a kind ordered by start",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFn()
			tl, err := a.timeline(domain.Kind(kind))
			if err != nil {
				return err
			}
			var periods []domain.Period
			if parent != "" {
				periods, err = a.svc.Siblings(cmd.Context(), domain.Kind(kind), parent)
				if err != nil {
					return err
				}
			} else {
				periods = a.svc.List(cmd.Context(), domain.Kind(kind))
			}
			printPeriods(cmd.OutOrStdout(), tl, periods)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "period kind")
	cmd.Flags().StringVar(&parent, "parent", "", "restrict to one parent")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func currentCmd(appFn func() *app) *cobra.Command {
	var kind, at string
	cmd := &cobra.Command{
		Use:   "current <parent>...",
		Short: "show the period covering today (or --at) for each parent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			tl, err := a.timeline(domain.Kind(kind))
			if err != nil {
				return err
			}
			if at != "" {
				t, err := tl.Parse(at)
				if err != nil {
					return err
				}
				periods := make([]domain.Period, 0, len(args))
				for _, parent := range args {
					p, ok, err := a.svc.Current(cmd.Context(), domain.Kind(kind), parent, t)
					if err != nil {
						return err
					}
					if ok {
						periods = append(periods, p)
					}
				}
				printPeriods(cmd.OutOrStdout(), tl, periods)
				return nil
			}
			assoc, err := core.NewPeriodicAssociation(a.svc, domain.Kind(kind))
			if err != nil {
				return err
			}
			if err := assoc.Preload(cmd.Context(), args); err != nil {
				return err
			}
			periods := make([]domain.Period, 0, len(args))
			for _, parent := range args {
				p, err := assoc.Current(cmd.Context(), parent)
				if err != nil {
					return err
				}
				periods = append(periods, p)
			}
			printPeriods(cmd.OutOrStdout(), tl, periods)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "period kind")
	cmd.Flags().StringVar(&at, "at", "", "instant to look up instead of today")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func kindsCmd(appFn func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "list the configured period kinds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFn()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tGRANULARITY\tGAPLESS")
			for _, kind := range a.registry.Kinds() {
				m, err := a.registry.Model(kind)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%t\n", kind, m.Timeline().Granularity, m.Gapless())
			}
			return tw.Flush()
		},
	}
}

func exportCmd(appFn func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "write a snapshot of every period to the archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			archiver, err := appFn().archiver(cmd.Context())
			if err != nil {
				return err
			}
			info, err := archiver.Export(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d bytes\t%s periods\n", info.Key, info.Size, info.Metadata["periods"])
			return nil
		},
	}
}

func restoreCmd(appFn func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <key>",
		Short: "replace every period with the contents of a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archiver, err := appFn().archiver(cmd.Context())
			if err != nil {
				return err
			}
			n, err := archiver.Restore(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %d periods from %s\n", n, args[0])
			return nil
		},
	}
}

func snapshotsCmd(appFn func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshots",
		Short: "list archived snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			archiver, err := appFn().archiver(cmd.Context())
			if err != nil {
				return err
			}
			infos, err := archiver.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tSIZE\tMODIFIED")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", info.Key, info.Size, info.LastModified.UTC().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func printPeriods(w io.Writer, tl domain.Timeline, periods []domain.Period) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPARENT\tSTART\tEND\tATTRIBUTES")
	for _, p := range periods {
		id := p.ID
		if id == "" {
			id = "(default)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", id, p.ParentID, formatBound(tl, p.StartAt), formatBound(tl, p.EndAt), formatAttrs(p.Attributes))
	}
	_ = tw.Flush()
}

func printCorrections(w io.Writer, res core.Resolution) {
	corrections := res.Corrections()
	if len(corrections) == 0 {
		return
	}
	actions := make([]string, 0, len(corrections))
	for action := range corrections {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	parts := make([]string, 0, len(actions))
	for _, action := range actions {
		parts = append(parts, fmt.Sprintf("%s=%d", action, corrections[action]))
	}
	fmt.Fprintf(w, "corrections: %s\n", strings.Join(parts, " "))
}

func formatBound(tl domain.Timeline, t *time.Time) string {
	if t == nil {
		return "-"
	}
	return tl.Format(*t)
}

func formatAttrs(attrs map[string]any) string {
	if len(attrs) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, attrs[k]))
	}
	return strings.Join(parts, ",")
}

func mergeAttrs(base map[string]any, pairs []string) map[string]any {
	out := make(map[string]any, len(base)+len(pairs))
	for k, v := range base {
		out[k] = v
	}
	for _, pair := range pairs {
		k, v, _ := strings.Cut(pair, "=")
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}
