package cli

import (
	"TCPScope/internal/config"
	"TCPScope/internal/query"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

type queryFlags struct {
	host    string
	port    int
	end     string
	runID   string
	key     string
	limit   int
	jsonOut bool
}

func newQueryCommand(a *app) *cobra.Command {
	f := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query connection snapshots stored in ClickHouse",
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.host, "host", "", "ClickHouse host (default from the clickhouse writer)")
	pf.IntVar(&f.port, "port", 0, "ClickHouse native port (default from the clickhouse writer)")
	pf.StringVar(&f.end, "end", "", "only consider snapshots up to this RFC3339 time")
	pf.BoolVar(&f.jsonOut, "json", false, "print results as JSON")

	runs := &cobra.Command{
		Use:   "runs",
		Short: "Summarize stored runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			end, err := parseEnd(f.end)
			if err != nil {
				return err
			}
			q, err := a.querier(f)
			if err != nil {
				return err
			}
			defer q.Close()

			res, err := q.Runs(cmd.Context(), query.RunsRequest{End: end, RunID: f.runID})
			if err != nil {
				return err
			}
			if f.jsonOut {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printRuns(cmd.OutOrStdout(), res)
			return nil
		},
	}
	runs.Flags().StringVar(&f.runID, "run-id", "", "only this run")

	trace := &cobra.Command{
		Use:   "trace <run-id>",
		Short: "List the connections of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			end, err := parseEnd(f.end)
			if err != nil {
				return err
			}
			filters, err := query.ParseFilters(f.key)
			if err != nil {
				return err
			}
			q, err := a.querier(f)
			if err != nil {
				return err
			}
			defer q.Close()

			res, err := q.TraceConnections(cmd.Context(), query.TraceRequest{
				RunID:   args[0],
				Filters: filters,
				End:     end,
				Limit:   f.limit,
			})
			if err != nil {
				return err
			}
			if f.jsonOut {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printTraces(cmd.OutOrStdout(), res)
			return nil
		},
	}
	trace.Flags().StringVar(&f.key, "key", "", `connection filter, e.g. "DstAddr=10.0.0.2,DstPort=80,State=open"`)
	trace.Flags().IntVar(&f.limit, "limit", 100, "maximum number of connections")

	cmd.AddCommand(runs, trace)
	return cmd
}

func (a *app) querier(f *queryFlags) (query.Querier, error) {
	ch, ok := a.cfg.ClickHouse()
	if !ok {
		ch = config.ClickHouseConfig{Host: "127.0.0.1", Port: 9000, Database: "default", Username: "default"}
	}
	if f.host != "" {
		ch.Host = f.host
	}
	if f.port != 0 {
		ch.Port = f.port
	}
	return query.NewClickHouseQuerier(ch)
}

func parseEnd(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid end time: %w", err)
	}
	return t, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRuns(w io.Writer, runs []query.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tLAST SNAPSHOT\tCONNECTIONS\tOPEN\tCLOSED\tMEAN DURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%.3fs\n",
			r.RunID, r.LastSnapshot.Format(time.RFC3339), r.Connections, r.Open, r.Closed, r.MeanDuration)
	}
	tw.Flush()
}

func printTraces(w io.Writer, traces []query.ConnectionTrace) {
	if len(traces) == 0 {
		fmt.Fprintln(w, "No connections found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tDESTINATION\tSTATE\tSTART\tDURATION\tSEEN")
	for _, t := range traces {
		dur := "-"
		if t.DurationSeconds != nil {
			dur = fmt.Sprintf("%.3fs", *t.DurationSeconds)
		}
		fmt.Fprintf(tw, "%s:%d\t%s:%d\t%s\t%s\t%s\t%s..%s\n",
			t.SrcAddr, t.SrcPort, t.DstAddr, t.DstPort, t.State,
			t.StartTime.Format("15:04:05.000000"), dur,
			t.FirstSnapshot.Format("15:04:05"), t.LastSnapshot.Format("15:04:05"))
	}
	tw.Flush()
}
