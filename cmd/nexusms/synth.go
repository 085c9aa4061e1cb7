package main

import (
	"fmt"

	"github.com/INLOpen/nexusms/core"
	"github.com/INLOpen/nexusms/internal/synth"
	"github.com/INLOpen/nexusms/scanlog"
	"github.com/spf13/cobra"
)

func newSynthCmd(a *app) *cobra.Command {
	var (
		outPath     string
		compression string
		opts        synth.Options
	)
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Generate a synthetic scan journal",
		Long: `Generate a deterministic synthetic run and write it as a scan journal.
Useful for benchmarks and for trying the other commands without instrument data.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if compression == "" {
				compression = a.cfg.ScanLog.Compression
			}
			ct, err := core.ParseCompressionType(compression)
			if err != nil {
				return err
			}
			run := synth.Run(opts)

			w, err := scanlog.Create(outPath, ct, a.logger)
			if err != nil {
				return err
			}
			for _, s := range run {
				if err := w.Append(s); err != nil {
					w.Close()
					return err
				}
			}
			if err := w.Close(); err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "wrote %d spectra to %s (%s)\n", w.Count(), outPath, ct)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&outPath, "out", "o", "", "Journal path (required)")
	f.StringVar(&compression, "compression", "", "none, snappy, lz4 or zstd (default scanlog.compression)")
	f.Int64Var(&opts.Seed, "seed", 1, "Random seed")
	f.IntVar(&opts.Cycles, "cycles", 10, "MS1 scans to generate")
	f.IntVar(&opts.MS2PerCycle, "ms2", 5, "Fragment scans after every MS1 scan")
	f.IntVar(&opts.PeaksPerScan, "peaks", 50, "Peaks per scan")
	f.Float64Var(&opts.MinMz, "min-mz", 100, "Lowest generated m/z")
	f.Float64Var(&opts.MaxMz, "max-mz", 1600, "Highest generated m/z")
	f.IntVar(&opts.GapEvery, "gap-every", 0, "Skip a scan number after this many scans (0: never)")
	f.BoolVar(&opts.DIA, "dia", false, "Tile fixed isolation windows instead of picking precursors")
	f.Float64Var(&opts.WindowWidth, "window", 25, "DIA isolation window width in Th")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
