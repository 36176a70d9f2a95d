package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/brensch/mpduck/internal/api"
	"github.com/brensch/mpduck/internal/app"
	"github.com/brensch/mpduck/internal/orchestrator"
)

var (
	fetchTable       string
	fetchAppend      bool
	fetchWorkers     int
	fetchBatchSize   int
	fetchProgress    string
	fetchMetricsFile string

	eventsFrom      string
	eventsTo        string
	eventsNames     []string
	eventsWhere     string
	eventsChunkDays int

	profilesWhere       string
	profilesCohort      string
	profilesDistinctIDs []string
	profilesOutputProps []string
	profilesBehaviors   string
	profilesAsOf        int64
	profilesAllUsers    bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch events or profiles into a DuckDB table",
}

var fetchEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Export raw events for a date range into a table",
	Example: `  mpduck fetch events --table signups --from 2024-01-01 --to 2024-03-31 --event Signup
  mpduck fetch events --table events --from 2024-04-01 --to 2024-04-30 --append --workers 20`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		plan := orchestrator.EventPlan{
			Table:      fetchTable,
			FromDate:   eventsFrom,
			ToDate:     eventsTo,
			Events:     eventsNames,
			Where:      eventsWhere,
			Append:     fetchAppend,
			MaxWorkers: orDefault(fetchWorkers, appConfig.Fetch.EventWorkers),
			ChunkDays:  orDefault(eventsChunkDays, appConfig.Fetch.ChunkDays),
			BatchSize:  orDefault(fetchBatchSize, appConfig.Fetch.BatchSize),
		}

		reporter := newProgressReporter(fetchProgress, fmt.Sprintf("Fetching events into %s", plan.Table), cancel)
		onProgress := func(p orchestrator.BatchProgress) {
			reporter.total(p.Total)
			reporter.done(app.NewUnitDone(p.FromDate+".."+p.ToDate, p.Rows, p.CumulativeRows, p.Success, p.Err))
		}

		res, err := orchestrator.FetchEvents(ctx, client, store, plan, onProgress, getLogger())
		summary := ""
		if res != nil {
			summary = fmt.Sprintf("%d rows from %d/%d chunks", res.TotalRows, res.Successful, res.TotalChunks)
		}
		reporter.finish(summary, err)
		return finishFetch(res, err)
	},
}

var fetchProfilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Fetch user profiles into a table",
	Example: `  mpduck fetch profiles --table users
  mpduck fetch profiles --table pro_users --where 'properties["plan"] == "pro"' --output-property '$email'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		plan := orchestrator.ProfilePlan{
			Table: fetchTable,
			Query: api.ProfileQuery{
				Where:            profilesWhere,
				CohortID:         profilesCohort,
				DistinctIDs:      profilesDistinctIDs,
				OutputProperties: profilesOutputProps,
				Behaviors:        profilesBehaviors,
				AsOfTimestamp:    profilesAsOf,
				IncludeAllUsers:  profilesAllUsers,
			},
			Append:               fetchAppend,
			MaxWorkers:           orDefault(fetchWorkers, appConfig.Fetch.ProfileWorkers),
			BatchSize:            orDefault(fetchBatchSize, appConfig.Fetch.BatchSize),
			PageWarningThreshold: appConfig.Fetch.PageWarningThreshold,
		}

		reporter := newProgressReporter(fetchProgress, fmt.Sprintf("Fetching profiles into %s", plan.Table), cancel)
		onProgress := func(p orchestrator.ProfileProgress) {
			reporter.total(p.TotalPages)
			reporter.done(app.NewUnitDone(fmt.Sprintf("page %d", p.Page), p.Rows, p.CumulativeRows, p.Success, p.Err))
		}

		res, err := orchestrator.FetchProfiles(ctx, client, store, plan, onProgress, getLogger())
		summary := ""
		if res != nil {
			summary = fmt.Sprintf("%d profiles from %d/%d pages", res.TotalRows, res.Successful, res.TotalPages)
			if res.Advisory != "" {
				summary += "\n" + res.Advisory
			}
		}
		reporter.finish(summary, err)
		return finishFetch(res, err)
	},
}

func newAPIClient() (*api.Client, error) {
	switch fetchProgress {
	case "tui", "log", "none":
	default:
		return nil, fmt.Errorf("invalid --progress %q (use tui, log or none)", fetchProgress)
	}
	if !appConfig.API.HasCredentials() {
		return nil, errors.New("missing API credentials: set api.username, api.secret and api.project_id (or MPDUCK_API_* env vars)")
	}
	return api.NewClient(appConfig.API, getLogger()), nil
}

// finishFetch prints the result as JSON, writes metrics and returns err.
// A cancelled run still prints its partial result.
func finishFetch[T any](res *T, err error) error {
	if fetchMetricsFile != "" {
		if mErr := prometheus.WriteToTextfile(fetchMetricsFile, orchestrator.Registry); mErr != nil {
			getLogger().Error("Failed to write metrics file.", "path", fetchMetricsFile, "error", mErr)
		}
	}
	if res != nil {
		out, mErr := json.MarshalIndent(res, "", "  ")
		if mErr != nil {
			return errors.Join(err, fmt.Errorf("failed to encode result: %w", mErr))
		}
		fmt.Fprintln(os.Stdout, string(out))
	}
	return err
}

func orDefault(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

// progressReporter fans progress out to the TUI, the log, or nowhere.
type progressReporter struct {
	mode     string
	view     *app.Progress
	logger   *slog.Logger
	lastSeen int
}

func newProgressReporter(mode, title string, cancel context.CancelFunc) *progressReporter {
	r := &progressReporter{mode: mode, logger: getLogger()}
	if mode == "tui" {
		r.view = app.StartProgress(title, os.Stderr, cancel)
	}
	return r
}

// total is called from the serialized progress callback only.
func (r *progressReporter) total(n int) {
	if r.view != nil && n != r.lastSeen {
		r.lastSeen = n
		r.view.Total(n)
	}
}

func (r *progressReporter) done(u app.UnitDoneMsg) {
	switch r.mode {
	case "tui":
		r.view.Done(u)
	case "log":
		if u.Success {
			r.logger.Info("Unit stored.", "unit", u.Label, "rows", u.Rows, "cumulative_rows", u.Cumulative)
		} else {
			r.logger.Warn("Unit failed.", "unit", u.Label, "error", u.ErrMsg)
		}
	}
}

func (r *progressReporter) finish(summary string, err error) {
	if r.view != nil {
		if vErr := r.view.Finish(summary, err); vErr != nil {
			r.logger.Warn("Progress view exited with error.", "error", vErr)
		}
	}
}

func init() {
	for _, c := range []*cobra.Command{fetchEventsCmd, fetchProfilesCmd} {
		c.Flags().StringVarP(&fetchTable, "table", "t", "", "Target table name")
		c.Flags().BoolVar(&fetchAppend, "append", false, "Append to an existing table instead of creating it")
		c.Flags().IntVarP(&fetchWorkers, "workers", "w", 0, "Concurrent fetch workers (0 = config default; capped per kind)")
		c.Flags().IntVar(&fetchBatchSize, "batch-size", 0, "Rows per storage commit (0 = config default)")
		c.Flags().StringVar(&fetchProgress, "progress", "log", "Progress display: tui, log or none")
		c.Flags().StringVar(&fetchMetricsFile, "metrics-file", "", "Write Prometheus metrics in textfile format to this path")
		c.MarkFlagRequired("table")
	}

	fetchEventsCmd.Flags().StringVar(&eventsFrom, "from", "", "First day, YYYY-MM-DD")
	fetchEventsCmd.Flags().StringVar(&eventsTo, "to", "", "Last day (inclusive), YYYY-MM-DD")
	fetchEventsCmd.Flags().StringSliceVarP(&eventsNames, "event", "e", nil, "Event names to include (repeatable; default all)")
	fetchEventsCmd.Flags().StringVar(&eventsWhere, "where", "", "Filter expression applied by the API")
	fetchEventsCmd.Flags().IntVar(&eventsChunkDays, "chunk-days", 0, "Days per chunk (0 = config default)")
	fetchEventsCmd.MarkFlagRequired("from")
	fetchEventsCmd.MarkFlagRequired("to")

	fetchProfilesCmd.Flags().StringVar(&profilesWhere, "where", "", "Profile filter expression")
	fetchProfilesCmd.Flags().StringVar(&profilesCohort, "cohort", "", "Only profiles in this cohort id")
	fetchProfilesCmd.Flags().StringSliceVar(&profilesDistinctIDs, "distinct-id", nil, "Only these distinct ids (repeatable)")
	fetchProfilesCmd.Flags().StringSliceVar(&profilesOutputProps, "output-property", nil, "Only return these properties (repeatable)")
	fetchProfilesCmd.Flags().StringVar(&profilesBehaviors, "behaviors", "", "Behavioral filter definition (requires --as-of)")
	fetchProfilesCmd.Flags().Int64Var(&profilesAsOf, "as-of", 0, "Evaluate behaviors as of this unix timestamp")
	fetchProfilesCmd.Flags().BoolVar(&profilesAllUsers, "include-all-users", false, "Include profiles without a cohort match when filtering by cohort")

	fetchCmd.AddCommand(fetchEventsCmd)
	fetchCmd.AddCommand(fetchProfilesCmd)
}
