package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/INLOpen/nexusms/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "nexusms.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  output: none\n"+body), 0o644))
	return path
}

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, run(args, &buf), "nexusms %s", strings.Join(args, " "))
	return buf.String()
}

// rows counts non-empty output lines after the header lines.
func rows(out string, header int) int {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	return len(lines) - header
}

func TestCLI_SynthBuildInspect(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "scanlog:\n  compression: snappy\n")
	journal := filepath.Join(dir, "run01"+core.ScanLogSuffix)

	out := runCLI(t, "-c", cfg, "synth", "--out", journal, "--cycles", "4", "--ms2", "3", "--peaks", "20",
		"--dia", "--min-mz", "400", "--max-mz", "700", "--window", "100")
	assert.Contains(t, out, "wrote 16 spectra")
	assert.Contains(t, out, "(snappy)")

	out = runCLI(t, "-c", cfg, "build", journal)
	container := filepath.Join(dir, "run01"+core.ContainerSuffix)
	assert.Contains(t, out, container)
	assert.Contains(t, out, "16 scans (4 MS1, 12 MSn, 0 gaps)")
	_, err := os.Stat(container)
	require.NoError(t, err)

	out = runCLI(t, "-c", cfg, "info", container)
	assert.Contains(t, out, "DDA (3 isolation windows)")
	assert.Regexp(t, `precursor peaks\s+80 `, out)

	out = runCLI(t, "-c", cfg, "isolating", container, "--mz", "450")
	assert.Contains(t, out, "# acquisition DDA")
	assert.Equal(t, 4, rows(out, 2))

	out = runCLI(t, "-c", cfg, "spectrum", container, "1")
	assert.Regexp(t, `ms level\s+1\n`, out)
	assert.Regexp(t, `peaks\s+20\n`, out)

	out = runCLI(t, "-c", cfg, "spectrum", container, "2", "--header-only")
	assert.Contains(t, out, "isolation")
	assert.NotContains(t, out, "peaks")

	out = runCLI(t, "-c", cfg, "xic", container, "--mz", "550", "--tol", "200Th")
	assert.Equal(t, 4, rows(out, 1), "one row per MS1 scan")

	out = runCLI(t, "-c", cfg, "xic", container, "--mz", "500", "--tol", "500Th", "--precursor", "450")
	assert.Equal(t, 4, rows(out, 1), "one row per fragment scan isolating 450")
}

func TestCLI_ParallelBuildIntoOutDir(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "")
	var journals []string
	for _, name := range []string{"a", "b", "c"} {
		j := filepath.Join(dir, name+core.ScanLogSuffix)
		runCLI(t, "-c", cfg, "synth", "--out", j, "--cycles", "2", "--peaks", "10")
		journals = append(journals, j)
	}

	outDir := filepath.Join(dir, "containers")
	runCLI(t, append([]string{"-c", cfg, "build", "-o", outDir, "-p", "3"}, journals...)...)
	for _, name := range []string{"a", "b", "c"} {
		_, err := os.Stat(filepath.Join(outDir, name+core.ContainerSuffix))
		assert.NoError(t, err, name)
	}
}

func TestCLI_Errors(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "")
	var buf bytes.Buffer

	assert.Error(t, run([]string{"-c", cfg, "build", filepath.Join(dir, "missing.scans")}, &buf))
	assert.Error(t, run([]string{"-c", cfg, "info", cfg}, &buf), "a YAML file is not a container")
	assert.Error(t, run([]string{"-c", cfg, "synth"}, &buf), "--out is required")
	assert.Error(t, run([]string{"-c", cfg, "xic", "x.nms", "--mz", "1", "--tol", "3"}, &buf), "tolerance without unit")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("reader:\n  dia_window_threshold: -1\n"), 0o644))
	assert.Error(t, run([]string{"-c", bad, "info", "x.nms"}, &buf))
}
