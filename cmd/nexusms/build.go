package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/INLOpen/nexusms/core"
	"github.com/INLOpen/nexusms/msfile"
	"github.com/INLOpen/nexusms/scanlog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newBuildCmd(a *app) *cobra.Command {
	var (
		outDir        string
		parallel      int
		formatVersion int32
	)
	cmd := &cobra.Command{
		Use:   "build journal...",
		Short: "Convert scan journals into containers",
		Long: `Convert one or more scan journals into container files. Each journal
run01.scans becomes run01.nms next to it, or in --out-dir.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, journals []string) error {
			if parallel <= 0 {
				parallel = max(1, a.cfg.Writer.Parallelism)
			}
			if outDir == "" {
				outDir = a.cfg.Writer.OutputDir
			}
			opts := a.writerOptions()
			if formatVersion != 0 {
				opts.FormatVersion = formatVersion
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			g, ctx := errgroup.WithContext(ctx)
			g.SetLimit(parallel)

			var mu sync.Mutex
			w := out(cmd)
			for _, journal := range journals {
				target := core.ContainerPathFor(journal)
				if outDir != "" {
					if err := os.MkdirAll(outDir, 0o755); err != nil {
						return fmt.Errorf("failed to create output directory: %w", err)
					}
					target = filepath.Join(outDir, filepath.Base(target))
				}
				g.Go(func() error {
					src, err := scanlog.Open(journal)
					if err != nil {
						return err
					}
					defer src.Close()

					start := time.Now()
					final, stats, err := msfile.Build(ctx, src, target, opts)
					a.metrics.ObserveBuild(time.Since(start), err)
					if err != nil {
						return fmt.Errorf("%s: %w", journal, err)
					}
					mu.Lock()
					defer mu.Unlock()
					fmt.Fprintf(w, "%s -> %s: %d scans (%d MS1, %d MSn, %d gaps), %d precursor / %d product peaks, %s, %d bytes in %s\n",
						journal, final, stats.Scans, stats.PrecursorScans, stats.FragmentScans, stats.Gaps,
						stats.Precursor.PeakCount, stats.Product.PeakCount, stats.Mode, stats.Bytes,
						stats.Duration.Round(time.Millisecond))
					if stats.UsedFallback {
						fmt.Fprintf(w, "  note: %s was not writable, output placed in the fallback directory\n", filepath.Dir(target))
					}
					return nil
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVarP(&outDir, "out-dir", "o", "", "Directory for the containers (default writer.output_dir, else next to each journal)")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "Concurrent builds (default writer.parallelism)")
	cmd.Flags().Int32Var(&formatVersion, "format-version", 0, "Record layout version to write (default writer.format_version)")
	return cmd
}
