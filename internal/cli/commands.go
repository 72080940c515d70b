package cli

import (
	"github.com/spf13/cobra"

	"github.com/eshaffer321/commission-recon/internal/application/service"
	"github.com/eshaffer321/commission-recon/internal/infrastructure/storage"
)

func (a *App) newMatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Run the matcher over the current CSV exports",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "preview",
		Short: "Match without saving and show totals plus a sample",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			preview, err := a.svc.Preview(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(a.out, preview)
			}
			formatTotals(a.out, preview.Totals)
			formatSample(a.out, preview.Sample)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Match and persist a new run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			created, err := a.svc.CreateRun(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(a.out, created)
			}
			formatRunCreated(a.out, created)
			return nil
		},
	})
	return cmd
}

func (a *App) newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored match runs",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := a.svc.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(a.out, runs)
			}
			formatRuns(a.out, runs)
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", service.DefaultRunLimit, "Maximum runs to show")

	compare := &cobra.Command{
		Use:   "compare [older-run newer-run]",
		Short: "Diff two runs (default: the two most recent)",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return cobra.ExactArgs(2)(cmd, args)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var runA, runB string
			if len(args) == 2 {
				runA, runB = args[0], args[1]
			}
			cmp, err := a.svc.CompareRuns(cmd.Context(), runA, runB)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(a.out, cmp)
			}
			formatComparison(a.out, cmp)
			return nil
		},
	}

	cmd.AddCommand(list, compare)
	return cmd
}

func (a *App) newResultsCommand() *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "results",
		Short: "List results of the latest run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := a.svc.ListResults(cmd.Context(), status, limit)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(a.out, page)
			}
			formatResults(a.out, page)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter: auto_matched, needs_review, unmatched or resolved")
	cmd.Flags().IntVar(&limit, "limit", service.DefaultResultLimit, "Maximum results to show")
	return cmd
}

func (a *App) newExceptionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "exceptions",
		Aliases: []string{"exc"},
		Short:   "Work the exception queue of the latest run",
	}

	var (
		status string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List exceptions, highest confidence first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			exc, err := a.svc.ListExceptions(cmd.Context(), status, limit)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(a.out, exc)
			}
			formatExceptions(a.out, exc)
			return nil
		},
	}
	list.Flags().StringVar(&status, "status", string(storage.ExceptionOpen), "Filter: open or resolved")
	list.Flags().IntVar(&limit, "limit", service.DefaultExceptionLimit, "Maximum exceptions to show")

	var (
		action string
		txnID  string
		note   string
	)
	resolve := &cobra.Command{
		Use:   "resolve <line-id>",
		Short: "Resolve an open exception",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := service.ResolveRequest{LineID: args[0], Action: action}
			if cmd.Flags().Changed("bank-txn") {
				req.BankTxnID = &txnID
			}
			if cmd.Flags().Changed("note") {
				req.Note = &note
			}
			rec, err := a.svc.ResolveException(cmd.Context(), req)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(a.out, rec)
			}
			formatResolved(a.out, rec)
			return nil
		},
	}
	resolve.Flags().StringVar(&action, "action", "", "Resolution action, e.g. accept_suggestion or manual_match")
	resolve.Flags().StringVar(&txnID, "bank-txn", "", "Bank transaction to record (default: keep the suggestion)")
	resolve.Flags().StringVar(&note, "note", "", "Free-form resolution note")
	_ = resolve.MarkFlagRequired("action")

	var count int
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Auto-resolve the highest-confidence open exceptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.svc.Sweep(cmd.Context(), count)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(a.out, result)
			}
			formatSweep(a.out, result)
			return nil
		},
	}
	sweep.Flags().IntVar(&count, "count", service.DefaultSweepCount, "Exceptions to resolve")

	cmd.AddCommand(list, resolve, sweep)
	return cmd
}

func (a *App) newRulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage policy number override rules",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List rules, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := a.svc.ListPolicyRules(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(a.out, rules)
			}
			formatRules(a.out, rules)
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", service.DefaultRuleLimit, "Maximum rules to show")

	var note string
	upsert := &cobra.Command{
		Use:   "upsert <source-policy> <target-policy>",
		Short: "Map a statement policy number to its canonical form",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var notePtr *string
			if cmd.Flags().Changed("note") {
				notePtr = &note
			}
			rule, err := a.svc.UpsertPolicyRule(cmd.Context(), args[0], args[1], notePtr)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(a.out, rule)
			}
			printf(a.out, "Rule saved: %s -> %s\n", rule.SourcePolicyNumber, rule.TargetPolicyNumber)
			return nil
		},
	}
	upsert.Flags().StringVar(&note, "note", "", "Why the mapping exists")

	cmd.AddCommand(list, upsert)
	return cmd
}

func (a *App) newLinesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lines",
		Short: "Drill into statement lines",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <line-id>",
		Short: "Show a line with its verdict, exception, bank match and audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			detail, err := a.svc.LineDetail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(a.out, detail)
			}
			formatLineDetail(a.out, detail)
			return nil
		},
	})
	return cmd
}

func (a *App) newAuditCommand() *cobra.Command {
	var filter storage.AuditFilter
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List audit events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := a.svc.ListAudit(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(a.out, events)
			}
			formatAudit(a.out, events)
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.EntityType, "entity-type", "", "Filter by entity type (line, match_run, policy_rule)")
	cmd.Flags().StringVar(&filter.EntityID, "entity-id", "", "Filter by entity id")
	cmd.Flags().IntVar(&filter.Limit, "limit", service.DefaultAuditLimit, "Maximum events to show")
	return cmd
}
