package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/habitstreak/internal/config"
	"github.com/habitstreak/internal/db"
	"github.com/habitstreak/internal/logger"
	"github.com/habitstreak/internal/period"
	"github.com/habitstreak/internal/service"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// app 在子命令之间共享数据库连接与注册表
type app struct {
	driver   string
	dsn      string
	verbose  bool
	log      *logger.Logger
	gdb      *gorm.DB
	store    *db.HabitStore
	registry *service.HabitRegistry
}

// NewRootCmd 构造 habitctl 命令树，cfg 提供 --driver/--db 的默认值
func NewRootCmd(cfg config.AppConfig) *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "habitctl",
		Short:         "Inspect and manage habit streaks from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.shutdown()
		},
	}

	root.PersistentFlags().StringVar(&a.driver, "driver", cfg.DatabaseDriver, "database driver (sqlite, postgres)")
	root.PersistentFlags().StringVar(&a.dsn, "db", cfg.DatabasePath, "database path or DSN")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log registry activity to stderr")

	root.AddCommand(
		a.dumpCmd(),
		a.addCmd(),
		a.checkOffCmd(),
		a.deleteCmd(),
		a.listCmd(),
		a.reconcileCmd(),
		a.statsCmd(),
	)
	return root
}

func (a *app) open(cmd *cobra.Command) error {
	a.log = logger.NewNop()
	if a.verbose {
		log, err := logger.New("dev")
		if err != nil {
			return err
		}
		a.log = log
	}

	gdb, err := db.Open(a.driver, a.dsn, nil)
	if err != nil {
		return err
	}
	a.gdb = gdb
	a.store = db.NewHabitStore(gdb)
	a.registry = service.NewHabitRegistry(a.store, service.WithLogger(a.log))
	return a.registry.Load(cmd.Context())
}

func (a *app) shutdown() error {
	if a.log != nil {
		a.log.Sync()
	}
	if a.gdb == nil {
		return nil
	}
	err := db.Close(a.gdb)
	a.gdb = nil
	return err
}

func (a *app) dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print every habit row and miss row in the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			habits, err := a.store.LoadAll(ctx)
			if err != nil {
				return err
			}
			misses, err := a.store.ListMissEvents(ctx)
			if err != nil {
				return err
			}
			checkOffs, err := a.store.ListCheckOffs(ctx, "")
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "habits (%d)\n", len(habits))
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPERIODICITY\tREFERENCE\tSTREAK\tLONGEST\tMILESTONES\tDONE")
			for _, h := range habits {
				fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%d\t%d\t%t\n", h.Name, h.Periodicity, h.ReferenceTime, h.Streak, h.LongestStreak, h.MilestoneCount, h.Done)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(out, "\nmisses (%d)\n", len(misses))
			w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tHABIT\tMISSED AT")
			for _, m := range misses {
				fmt.Fprintf(w, "%d\t%s\t%s\n", m.ID, m.HabitName, m.MissedAt)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(out, "\ncheck-offs (%d)\n", len(checkOffs))
			w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tHABIT\tCHECKED AT\tSTREAK")
			for _, e := range checkOffs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", e.ID, e.HabitName, e.CheckedAt, e.Streak)
			}
			return w.Flush()
		},
	}
}

func (a *app) addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add NAME PERIODICITY",
		Short: "Create a habit with a period of PERIODICITY days",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			periodicity, err := service.ParsePeriodicity(args[1])
			if err != nil {
				return err
			}
			h, err := a.registry.Add(cmd.Context(), args[0], periodicity)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %q (%s), first period ends %s\n",
				h.Name, period.Label(h.Periodicity), formatTime(h.ReferenceTime.Add(period.Length(h.Periodicity))))
			return nil
		},
	}
}

func (a *app) checkOffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-off NAME",
		Short: "Check off a habit for its current period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.registry.CheckOff(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.MissesRecorded > 0 {
				fmt.Fprintf(out, "%s: %d missed period(s) recorded first\n", res.Name, res.MissesRecorded)
			}
			fmt.Fprintf(out, "%s: %s\n", res.Name, res.Message())
			return nil
		},
	}
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a habit and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.registry.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			name, _ := service.NormalizeName(args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %q\n", name)
			return nil
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	var periodicity int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List habits, optionally filtered by periodicity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var err error
			habits := a.registry.Snapshot()
			if cmd.Flags().Changed("periodicity") {
				habits, err = a.registry.ListByPeriodicity(ctx, periodicity)
				if err != nil {
					return err
				}
			}

			now := a.registry.Now()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPERIOD\tSTREAK\tLONGEST\tDONE\tPERIOD ENDS")
			for _, h := range habits {
				_, end := h.CurrentPeriod(now)
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%t\t%s\n", h.Name, period.Label(h.Periodicity), h.Streak, h.LongestStreak, h.Done, formatTime(end))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&periodicity, "periodicity", "p", 0, "only habits with this period length in days")
	return cmd
}

func (a *app) reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [NAME]",
		Short: "Close elapsed periods now, for one habit or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			now := a.registry.Now()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				misses, err := a.registry.ReconcileOne(ctx, args[0], now)
				if err != nil {
					return err
				}
				name, _ := service.NormalizeName(args[0])
				fmt.Fprintf(out, "reconciled %q: %d miss(es)\n", name, misses)
				return nil
			}

			report := a.registry.ReconcileAll(ctx, now)
			fmt.Fprintf(out, "run %s: checked %d, updated %d, misses %d\n", report.RunID, report.Checked, report.Updated, report.Misses)
			for _, failure := range report.Failures {
				fmt.Fprintf(out, "  failed %s: %v\n", failure.Name, failure.Err)
			}
			return report.Err()
		},
	}
}

func (a *app) statsCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show streak and miss analytics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				return errors.New("--days must be at least 1")
			}
			ctx := cmd.Context()
			window := time.Duration(days) * period.Day
			out := cmd.OutOrStdout()

			if best, found := a.registry.LongestStreak(); found {
				fmt.Fprintf(out, "longest streak: %s (%d)\n", best.Name, best.LongestStreak)
			} else {
				fmt.Fprintln(out, "longest streak: no habits")
			}

			top, found, err := a.registry.MostMissedHabit(ctx, window)
			if err != nil {
				return err
			}
			if found {
				fmt.Fprintf(out, "most missed in last %d days: %s (%d)\n", days, top.Name, top.Missed)
			} else {
				fmt.Fprintf(out, "most missed in last %d days: none\n", days)
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tLONGEST\tMISSED")
			for _, h := range a.registry.Snapshot() {
				summary, err := a.registry.MissedCount(ctx, h.Name, window)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%d\t%d\n", h.Name, h.LongestStreak, summary.Missed)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&days, "days", "d", 30, "analytics window in days")
	return cmd
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

// Execute 运行命令并把错误写到 stderr
func Execute(cmd *cobra.Command, stderr io.Writer) int {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}
