/*
 * backend/internal/limits/limits.go
 *
 * Detection of the CPU and memory limits imposed on the process via
 * control groups, with host values as the fallback.
 */

package limits

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"k8s.io/klog/v2"
)

// defaultCgroupRoot is where the kernel mounts the cgroup hierarchy.
const defaultCgroupRoot = "/sys/fs/cgroup"

// v1 memory limits report a huge placeholder value when unconstrained.
const memoryUnlimitedThreshold = uint64(1) << 60

// Limits describes the resources assigned to the process.
type Limits struct {
	// CPUs is the assigned core count, fractional under CPU quotas.
	CPUs float64
	// MemoryBytes is the memory limit; 0 when no limit applies.
	MemoryBytes uint64
}

// Detect reads the ambient cgroup hierarchy.
func Detect() Limits {
	return detect(defaultCgroupRoot)
}

func detect(root string) Limits {
	cpus := float64(runtime.NumCPU())
	if quota, period, ok := readCPUQuota(root); ok && period > 0 {
		cpus = quota / period
	}
	memory := readMemoryLimit(root)
	klog.V(2).Infof("Detected resource limits: cpus=%v memory=%d", cpus, memory)
	return Limits{CPUs: cpus, MemoryBytes: memory}
}

// Parallelism returns the core count rounded down, at least 1.
func (l Limits) Parallelism() int {
	if l.CPUs < 1 {
		return 1
	}
	return int(l.CPUs)
}

// readCPUQuota reads the cgroup v2 cpu.max file, falling back to the v1
// cfs_quota_us/cfs_period_us pair.
func readCPUQuota(root string) (quota, period float64, ok bool) {
	if raw, err := os.ReadFile(filepath.Join(root, "cpu.max")); err == nil {
		fields := strings.Fields(strings.TrimSpace(string(raw)))
		if len(fields) == 2 && fields[0] != "max" {
			q, qErr := strconv.ParseFloat(fields[0], 64)
			p, pErr := strconv.ParseFloat(fields[1], 64)
			if qErr == nil && pErr == nil && q > 0 {
				return q, p, true
			}
		}
		return 0, 0, false
	}
	q, qErr := readInt(filepath.Join(root, "cpu", "cpu.cfs_quota_us"))
	p, pErr := readInt(filepath.Join(root, "cpu", "cpu.cfs_period_us"))
	if qErr != nil || pErr != nil || q <= 0 {
		return 0, 0, false
	}
	return float64(q), float64(p), true
}

// readMemoryLimit reads the cgroup v2 memory.max file, falling back to the
// v1 limit_in_bytes. Returns 0 when no limit applies.
func readMemoryLimit(root string) uint64 {
	if raw, err := os.ReadFile(filepath.Join(root, "memory.max")); err == nil {
		value := strings.TrimSpace(string(raw))
		if value == "max" {
			return 0
		}
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return parsed
		}
		return 0
	}
	parsed, err := readInt(filepath.Join(root, "memory", "memory.limit_in_bytes"))
	if err != nil || parsed <= 0 {
		return 0
	}
	if uint64(parsed) >= memoryUnlimitedThreshold {
		return 0
	}
	return uint64(parsed)
}

func readInt(path string) (int64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
}
