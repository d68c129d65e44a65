package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/corralhq/corral/internal/cost"
)

var (
	costsAgent   string
	costsModel   string
	costsGroupBy string
	costsSince   time.Duration
	costsDays    int
)

var costsCmd = &cobra.Command{
	Use:   "costs",
	Short: "Show spend and session aggregates",
}

var costsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show cost totals over a window",
	RunE:  runCostsSummary,
}

var costsDailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Show per-day cost totals",
	RunE:  runCostsDaily,
}

var costsSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Show session counts and average duration",
	RunE:  runCostsSessions,
}

func init() {
	costsSummaryCmd.Flags().StringVar(&costsAgent, "agent", "", "Filter by agent id")
	costsSummaryCmd.Flags().StringVar(&costsModel, "model", "", "Filter by model")
	costsSummaryCmd.Flags().StringVar(&costsGroupBy, "group-by", "", "Break totals down by agent, model, day, or provider")
	costsSummaryCmd.Flags().DurationVar(&costsSince, "since", 0, "Only include records newer than this (e.g. 24h)")
	costsDailyCmd.Flags().IntVar(&costsDays, "days", 7, "Number of trailing days to show")
	costsSessionsCmd.Flags().StringVar(&costsAgent, "agent", "", "Filter by agent id")

	costsCmd.AddCommand(costsSummaryCmd)
	costsCmd.AddCommand(costsDailyCmd)
	costsCmd.AddCommand(costsSessionsCmd)
}

// withAggregator runs fn against an aggregator backed by the store.
func withAggregator(fn func(*cost.Aggregator) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(cost.NewAggregator(db))
}

func runCostsSummary(cmd *cobra.Command, args []string) error {
	return withAggregator(func(agg *cost.Aggregator) error {
		filter := cost.Filter{
			AgentID: costsAgent,
			Model:   costsModel,
			GroupBy: cost.GroupBy(costsGroupBy),
		}
		if costsSince > 0 {
			filter.Since = time.Now().Add(-costsSince)
		}

		summary, err := agg.Summarize(filter)
		if err != nil {
			return err
		}

		bold := color.New(color.Bold)
		bold.Printf("Total: $%.4f\n", summary.TotalCost)
		fmt.Printf("  input:  $%.4f (%d tokens)\n", summary.TotalInputCost, summary.InputTokens)
		fmt.Printf("  output: $%.4f (%d tokens)\n", summary.TotalOutputCost, summary.OutputTokens)
		fmt.Printf("  requests: %d (avg $%.4f)\n", summary.RecordCount, summary.AverageCostPerRequest)

		if len(summary.Breakdown) > 0 {
			bold.Printf("\nBy %s:\n", costsGroupBy)
			keys := make([]string, 0, len(summary.Breakdown))
			for k := range summary.Breakdown {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("  %-30s $%.4f\n", k, summary.Breakdown[k])
			}
		}
		return nil
	})
}

func runCostsDaily(cmd *cobra.Command, args []string) error {
	return withAggregator(func(agg *cost.Aggregator) error {
		since := time.Now().UTC().AddDate(0, 0, -costsDays)
		days, err := agg.DailyBreakdown(cost.Filter{Since: since})
		if err != nil {
			return err
		}
		if len(days) == 0 {
			fmt.Println("No costs recorded in the window.")
			return nil
		}

		for _, d := range days {
			fmt.Printf("%s  $%.4f  (%d requests)\n", d.Date, d.TotalCost, d.RecordCount)
		}
		return nil
	})
}

func runCostsSessions(cmd *cobra.Command, args []string) error {
	return withAggregator(func(agg *cost.Aggregator) error {
		stats, err := agg.Sessions(costsAgent)
		if err != nil {
			return err
		}

		fmt.Printf("Sessions: %d total, %d active\n", stats.TotalSessions, stats.ActiveSessions)
		if stats.AverageDuration > 0 {
			fmt.Printf("Average duration: %s\n", formatDuration(stats.AverageDuration))
		}
		return nil
	})
}
