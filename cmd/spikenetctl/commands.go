package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"spikenet/pkg/spikenet"
)

func newInitCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := openClient(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer client.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "initialized store=%s\n", storeLabel(opts))
			return nil
		},
	}
}

func newRunCmd(opts *globalOptions) *cobra.Command {
	var (
		req         spikenet.RunRequest
		seed        int64
		showMetrics bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evolve a population described by a YAML config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("seed") {
				req.Seed = &seed
			}
			reg := prometheus.NewRegistry()
			client, err := openClient(cmd, opts, func(o *spikenet.Options) { o.Registerer = reg })
			if err != nil {
				return err
			}
			defer client.Close()

			summary, err := client.Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run completed run_id=%s nets=%s cycles=%s\n",
				summary.RunID, humanize.Comma(int64(summary.NetCount)), humanize.Comma(int64(len(summary.BestByCycle))))
			for i, best := range summary.BestByCycle {
				fmt.Fprintf(out, "cycle=%d best_fitness=%.6f\n", i+1, best)
			}
			fmt.Fprintf(out, "final_best_fitness=%.6f best_net=%s\n", summary.FinalBestFitness, summary.BestNetID)
			if summary.ArtifactsDir != "" {
				fmt.Fprintf(out, "artifacts_dir=%s\n", summary.ArtifactsDir)
			}
			if showMetrics {
				return printMetrics(cmd, reg)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&req.ConfigPath, "config", "", "population config (YAML)")
	flags.StringVar(&req.RunID, "run-id", "", "run id (default: generated uuid)")
	flags.StringVar(&req.ContinueFrom, "continue-from", "", "seed the run with a stored population id")
	flags.IntVar(&req.Cycles, "cycles", 0, "override evolution cycles (drops phases)")
	flags.IntVar(&req.Workers, "workers", 0, "override evaluation workers")
	flags.Int64Var(&seed, "seed", 0, "override the evolution seed")
	flags.BoolVar(&showMetrics, "metrics", false, "print run metrics when done")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func printMetrics(cmd *cobra.Command, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			labels := make([]string, 0, len(metric.GetLabel()))
			for _, label := range metric.GetLabel() {
				labels = append(labels, label.GetName()+"="+label.GetValue())
			}
			sort.Strings(labels)
			name := family.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case metric.GetCounter() != nil:
				fmt.Fprintf(out, "metric %s=%s\n", name, humanize.Commaf(metric.GetCounter().GetValue()))
			case metric.GetGauge() != nil:
				fmt.Fprintf(out, "metric %s=%.6f\n", name, metric.GetGauge().GetValue())
			case metric.GetHistogram() != nil:
				h := metric.GetHistogram()
				fmt.Fprintf(out, "metric %s count=%s sum=%.6f\n", name, humanize.Comma(int64(h.GetSampleCount())), h.GetSampleSum())
			}
		}
	}
	return nil
}

func newRecordCmd(opts *globalOptions) *cobra.Command {
	var (
		req      spikenet.RecordRequest
		asJSON   bool
		showRows bool
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Replay a net of a finished run and record every cascade round",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := openClient(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer client.Close()

			summary, err := client.Record(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(summary.Recording)
			}
			fmt.Fprintf(out, "recorded run_id=%s net=%s rows=%d frames=%s max_rounds=%d total_fitness=%.6f\n",
				summary.RunID, summary.NetID, summary.Rows, humanize.Comma(int64(summary.Frames)), summary.MaxRounds, summary.TotalFitness)
			if showRows {
				for _, row := range summary.Recording.Rows {
					activations := 0
					for _, frame := range row.Frames {
						for _, round := range frame.Rounds {
							activations += len(round.Activated)
						}
					}
					fmt.Fprintf(out, "row=%d name=%s frames=%d activations=%s fitness=%.6f\n",
						row.Row, row.Name, len(row.Frames), humanize.Comma(int64(activations)), row.Fitness)
				}
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&req.ConfigPath, "config", "", "population config the run used")
	flags.StringVar(&req.RunID, "run-id", "", "run id")
	flags.BoolVar(&req.Latest, "latest", false, "use the most recent run")
	flags.StringVar(&req.NetID, "net", "", "net id (default: best net)")
	flags.IntVar(&req.MaxRounds, "max-rounds", 0, "override cascade rounds per frame")
	flags.BoolVar(&asJSON, "json", false, "print the full recording as JSON")
	flags.BoolVar(&showRows, "rows", false, "print a line per data row")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func newRunsCmd(opts *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := openClient(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer client.Close()

			items, err := client.Runs(cmd.Context(), spikenet.RunsRequest{Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "no runs found")
				return nil
			}
			for _, item := range items {
				fmt.Fprintf(out, "run_id=%s created=%s seed=%d nets=%s cells=%s cycles=%s reproduction=%s final_best_fitness=%.6f\n",
					item.RunID, createdLabel(item.CreatedAtUTC), item.Seed,
					humanize.Comma(int64(item.NetCount)), humanize.Comma(int64(item.TotalCells)), humanize.Comma(int64(item.Cycles)),
					item.Reproduction, item.FinalBestFitness)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}

func createdLabel(created string) string {
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return created
	}
	return strings.ReplaceAll(humanize.Time(t), " ", "_")
}

func selectorFlags(cmd *cobra.Command, sel *spikenet.RunSelector) {
	flags := cmd.Flags()
	flags.StringVar(&sel.RunID, "run-id", "", "run id")
	flags.BoolVar(&sel.Latest, "latest", false, "use the most recent run")
	flags.IntVar(&sel.Limit, "limit", 0, "maximum records to print (0 = all)")
}

func newLineageCmd(opts *globalOptions) *cobra.Command {
	var sel spikenet.RunSelector
	cmd := &cobra.Command{
		Use:   "lineage",
		Short: "Print the lineage records of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := openClient(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer client.Close()

			lineage, err := client.Lineage(cmd.Context(), sel)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(lineage) == 0 {
				fmt.Fprintln(out, "no lineage records")
				return nil
			}
			for _, rec := range lineage {
				fmt.Fprintf(out, "cycle=%d pos=%d net_id=%s parents=%s op=%s mutations=%d fingerprint=%s\n",
					rec.Cycle, rec.Position, rec.NetID, strings.Join(rec.ParentIDs, ","), rec.Operation, len(rec.Mutations), shortFingerprint(rec.Fingerprint))
			}
			return nil
		},
	}
	selectorFlags(cmd, &sel)
	return cmd
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

func newFitnessCmd(opts *globalOptions) *cobra.Command {
	var sel spikenet.RunSelector
	cmd := &cobra.Command{
		Use:   "fitness",
		Short: "Print the best fitness of every cycle of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := openClient(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer client.Close()

			history, err := client.FitnessHistory(cmd.Context(), sel)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(history) == 0 {
				fmt.Fprintln(out, "no fitness history")
				return nil
			}
			for i, best := range history {
				fmt.Fprintf(out, "cycle=%d best_fitness=%.6f\n", i+1, best)
			}
			return nil
		},
	}
	selectorFlags(cmd, &sel)
	return cmd
}

func newDiagnosticsCmd(opts *globalOptions) *cobra.Command {
	var sel spikenet.RunSelector
	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Print per-cycle population diagnostics of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := openClient(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer client.Close()

			diagnostics, err := client.Diagnostics(cmd.Context(), sel)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(diagnostics) == 0 {
				fmt.Fprintln(out, "no diagnostics")
				return nil
			}
			for _, d := range diagnostics {
				fmt.Fprintf(out, "cycle=%d best=%.6f mean=%.6f worst=%.6f fingerprints=%d mean_links=%.4f structural=%d parametric=%d rows=%v\n",
					d.Cycle, d.BestFitness, d.MeanFitness, d.WorstFitness, d.FingerprintDiversity, d.MeanLinkCount,
					d.StructuralMutations, d.ParametricMutations, d.Rows)
			}
			return nil
		},
	}
	selectorFlags(cmd, &sel)
	return cmd
}

func newTopologyCmd(opts *globalOptions) *cobra.Command {
	var sel spikenet.RunSelector
	cmd := &cobra.Command{
		Use:   "topology",
		Short: "Summarize the link topology of a run's final population",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := openClient(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer client.Close()

			signatures, err := client.Topology(cmd.Context(), sel)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, sig := range signatures {
				s := sig.Summary
				fmt.Fprintf(out, "rank=%d fingerprint=%s cells=%d links=%s mean_out=%.3f max_prior=%d reachable=%d reachable_outputs=%d cyclic=%d\n",
					i, shortFingerprint(sig.Fingerprint), s.TotalCells, humanize.Comma(int64(s.TotalLinks)), s.MeanOutDegree,
					s.MaxPriorLinks, s.ReachableCells, s.ReachableOutputs, s.CyclicComponents)
			}
			return nil
		},
	}
	selectorFlags(cmd, &sel)
	return cmd
}

func newExportCmd(opts *globalOptions) *cobra.Command {
	var req spikenet.ExportRequest
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy a run's artifacts to the exports directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := openClient(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer client.Close()

			summary, err := client.Export(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported run_id=%s dir=%s\n", summary.RunID, summary.Directory)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&req.RunID, "run-id", "", "run id")
	flags.BoolVar(&req.Latest, "latest", false, "export the most recent run")
	flags.StringVar(&req.OutDir, "out", "", "destination directory (default: --exports-dir)")
	return cmd
}
