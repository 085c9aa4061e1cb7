package main

import (
	"fmt"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/INLOpen/nexusms/chromatogram"
	"github.com/INLOpen/nexusms/msfile"
	"github.com/spf13/cobra"
)

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info container",
		Short: "Summarise a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openContainer(args[0])
			if err != nil {
				return err
			}
			defer r.Close()
			s, err := r.Summarize()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(out(cmd), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "path\t%s\n", s.Path)
			fmt.Fprintf(w, "format version\t%d\n", s.Version)
			fmt.Fprintf(w, "scans\t%d..%d (%d gaps)\n", s.MinScan, s.MaxScan, s.Gaps)
			levels := make([]int, 0, len(s.ScansByLevel))
			for level := range s.ScansByLevel {
				levels = append(levels, int(level))
			}
			sort.Ints(levels)
			for _, level := range levels {
				fmt.Fprintf(w, "  ms%d\t%d\n", level, s.ScansByLevel[uint8(level)])
			}
			fmt.Fprintf(w, "elution\t%.3f..%.3f\n", s.ElutionRange[0], s.ElutionRange[1])
			fmt.Fprintf(w, "precursor peaks\t%d (m/z %.4f..%.4f)\n", s.PrecursorPeaks, s.PrecursorMzRange[0], s.PrecursorMzRange[1])
			fmt.Fprintf(w, "product peaks\t%d (m/z %.4f..%.4f)\n", s.ProductPeaks, s.ProductMzRange[0], s.ProductMzRange[1])
			fmt.Fprintf(w, "acquisition\t%s (%d isolation windows)\n", s.Mode, s.DistinctIsolationWindows)
			fmt.Fprintf(w, "peaks per scan\tp5 %.0f  p50 %.0f  p95 %.0f  max %.0f\n",
				s.PeaksPerScan.P05, s.PeaksPerScan.P50, s.PeaksPerScan.P95, s.PeaksPerScan.Max)
			fmt.Fprintf(w, "total ion current\tp5 %.4g  p50 %.4g  p95 %.4g  max %.4g\n",
				s.TotalIonCurrent.P05, s.TotalIonCurrent.P50, s.TotalIonCurrent.P95, s.TotalIonCurrent.Max)
			if s.CorruptRecords > 0 {
				fmt.Fprintf(w, "corrupt records\t%d\n", s.CorruptRecords)
			}
			return w.Flush()
		},
	}
}

func newXICCmd(a *app) *cobra.Command {
	var (
		mz        float64
		tolerance string
		precursor float64
	)
	cmd := &cobra.Command{
		Use:   "xic container",
		Short: "Extract an ion chromatogram",
		Long: `Print the most intense peak per scan within a mass tolerance of --mz.
With --precursor the product array is queried instead, restricted to fragment
scans whose isolation window contains the precursor m/z.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tol, err := msfile.ParseTolerance(tolerance)
			if err != nil {
				return err
			}
			r, err := a.openContainer(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			var peaks []chromatogram.Peak
			if cmd.Flags().Changed("precursor") {
				lo, hi := tol.Window(mz)
				peaks, err = r.QueryFragmentChromatogram(lo, hi, precursor)
			} else {
				peaks, err = r.QueryPrecursorTolerance(mz, tol)
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(out(cmd), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCAN\tRT\tMZ\tINTENSITY")
			for _, p := range chromatogram.BestPeakPerScan(peaks) {
				rt, _ := r.ElutionTime(p.ScanNumber)
				fmt.Fprintf(w, "%d\t%.4f\t%.5f\t%g\n", p.ScanNumber, rt, p.Mz, p.Intensity)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Float64Var(&mz, "mz", 0, "Target m/z (required)")
	cmd.Flags().StringVar(&tolerance, "tol", "10ppm", "Mass tolerance, e.g. 10ppm or 0.01Th")
	cmd.Flags().Float64Var(&precursor, "precursor", 0, "Query fragment scans isolating this precursor m/z")
	_ = cmd.MarkFlagRequired("mz")
	return cmd
}

func newSpectrumCmd(a *app) *cobra.Command {
	var headerOnly bool
	cmd := &cobra.Command{
		Use:   "spectrum container scan",
		Short: "Print one spectrum",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			scan, err := strconv.ParseInt(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid scan number %q: %w", args[1], err)
			}
			r, err := a.openContainer(args[0])
			if err != nil {
				return err
			}
			defer r.Close()
			s, err := r.GetSpectrum(int32(scan), !headerOnly)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(out(cmd), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "scan\t%d\n", s.ScanNumber)
			if s.NativeID != "" {
				fmt.Fprintf(w, "native id\t%s\n", s.NativeID)
			}
			fmt.Fprintf(w, "ms level\t%d\n", s.MSLevel)
			fmt.Fprintf(w, "elution time\t%.4f\n", s.ElutionTime)
			fmt.Fprintf(w, "total ion current\t%g\n", s.TotalIonCurrent)
			if p := s.Precursor; p != nil {
				fmt.Fprintf(w, "isolation\t%.4f (-%.4f/+%.4f)\n", p.Window.TargetMz, p.Window.LowerOffset, p.Window.UpperOffset)
				fmt.Fprintf(w, "precursor\t%.5f z=%d %s\n", p.Window.MonoisotopicMz, p.Window.Charge, p.Activation)
			}
			if !headerOnly {
				fmt.Fprintf(w, "peaks\t%d\n", len(s.Peaks))
				for _, pk := range s.Peaks {
					fmt.Fprintf(w, "  %.5f\t%g\n", pk.Mz, pk.Intensity)
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&headerOnly, "header-only", false, "Skip the peak list")
	return cmd
}

func newIsolatingCmd(a *app) *cobra.Command {
	var mz float64
	cmd := &cobra.Command{
		Use:   "isolating container",
		Short: "List fragment scans whose isolation window contains an m/z",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openContainer(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			w := tabwriter.NewWriter(out(cmd), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "# acquisition %s\n", r.AcquisitionMode())
			fmt.Fprintln(w, "SCAN\tRT\tWINDOW")
			for _, scan := range r.FragmentScansIsolating(mz) {
				e, err := r.ScanIndex(scan)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%d\t%.4f\t%.4f..%.4f\n", scan, e.ElutionTime, e.IsolationMinMz, e.IsolationMaxMz)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Float64Var(&mz, "mz", 0, "Precursor m/z (required)")
	_ = cmd.MarkFlagRequired("mz")
	return cmd
}
