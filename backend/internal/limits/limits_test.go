package limits

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDetectCgroupV2(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "cpu.max"), "200000 100000\n")
	writeFile(t, filepath.Join(root, "memory.max"), "1073741824\n")

	l := detect(root)
	require.Equal(t, 2.0, l.CPUs)
	require.Equal(t, uint64(1073741824), l.MemoryBytes)
}

func TestDetectCgroupV2Unlimited(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "cpu.max"), "max 100000\n")
	writeFile(t, filepath.Join(root, "memory.max"), "max\n")

	l := detect(root)
	require.Equal(t, float64(runtime.NumCPU()), l.CPUs)
	require.Zero(t, l.MemoryBytes)
}

func TestDetectCgroupV1(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "cpu", "cpu.cfs_quota_us"), "150000\n")
	writeFile(t, filepath.Join(root, "cpu", "cpu.cfs_period_us"), "100000\n")
	writeFile(t, filepath.Join(root, "memory", "memory.limit_in_bytes"), "2147483648\n")

	l := detect(root)
	require.Equal(t, 1.5, l.CPUs)
	require.Equal(t, uint64(2147483648), l.MemoryBytes)
}

func TestDetectCgroupV1Unlimited(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "cpu", "cpu.cfs_quota_us"), "-1\n")
	writeFile(t, filepath.Join(root, "cpu", "cpu.cfs_period_us"), "100000\n")
	// The v1 placeholder for "no limit" is a near-2^63 value.
	writeFile(t, filepath.Join(root, "memory", "memory.limit_in_bytes"), "9223372036854771712\n")

	l := detect(root)
	require.Equal(t, float64(runtime.NumCPU()), l.CPUs)
	require.Zero(t, l.MemoryBytes)
}

func TestDetectWithoutCgroupFiles(t *testing.T) {
	l := detect(t.TempDir())
	require.Equal(t, float64(runtime.NumCPU()), l.CPUs)
	require.Zero(t, l.MemoryBytes)
}

func TestParallelism(t *testing.T) {
	require.Equal(t, 1, Limits{CPUs: 0.25}.Parallelism())
	require.Equal(t, 1, Limits{CPUs: 1}.Parallelism())
	require.Equal(t, 3, Limits{CPUs: 3.9}.Parallelism())
}
