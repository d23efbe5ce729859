package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"discobench/internal/bench"
)

var summaryCmd = &cobra.Command{
	Use:   "summary <file>",
	Short: "Print statistics of a sample file",
	Long:  "summary reads a sample file and prints count, mean, standard deviation and percentiles for every settle value.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		series, err := bench.ReadSeriesFile(args[0])
		if err != nil {
			return err
		}
		printSummary(cmd.OutOrStdout(), series)
		return nil
	},
}

func printSummary(w io.Writer, series *bench.Series) {
	fmt.Fprintf(w, "%s: %d samples\n", series.Field, series.Len())
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "param\truns\tn\tmean\tstd\tmin\tp5\tp95\tmax")
	for _, g := range series.Groups {
		st := bench.Summarize(g.Values())
		param := "-"
		if g.Swept {
			param = fmt.Sprintf("%g", g.Param)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\n",
			param, g.Runs, st.Count, st.Mean, st.Std, st.Min, st.P5, st.P95, st.Max)
	}
	tw.Flush()
}
