package observability

import (
	"os"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessCollector samples CPU and memory of the running server through
// gopsutil on every scrape.
type ProcessCollector struct {
	proc *process.Process

	cpu        *prometheus.Desc
	rss        *prometheus.Desc
	heap       *prometheus.Desc
	goroutines *prometheus.Desc
	errors     *prometheus.Desc

	failures float64
}

// NewProcessCollector binds to the current process.
func NewProcessCollector() (*ProcessCollector, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("voxel", "process", name), help, nil, nil)
	}
	return &ProcessCollector{
		proc:       proc,
		cpu:        desc("cpu_percent", "CPU used by the server since the previous sample, in percent."),
		rss:        desc("resident_bytes", "Resident set size."),
		heap:       desc("heap_alloc_bytes", "Bytes of allocated heap objects."),
		goroutines: desc("goroutines", "Live goroutines."),
		errors:     desc("sample_errors_total", "Samples gopsutil could not take."),
	}, nil
}

// Describe implements prometheus.Collector.
func (c *ProcessCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpu
	ch <- c.rss
	ch <- c.heap
	ch <- c.goroutines
	ch <- c.errors
}

// Collect implements prometheus.Collector. The registry serialises calls.
func (c *ProcessCollector) Collect(ch chan<- prometheus.Metric) {
	if pct, err := c.proc.Percent(0); err == nil {
		ch <- prometheus.MustNewConstMetric(c.cpu, prometheus.GaugeValue, pct)
	} else {
		c.failures++
	}
	if mem, err := c.proc.MemoryInfo(); err == nil {
		ch <- prometheus.MustNewConstMetric(c.rss, prometheus.GaugeValue, float64(mem.RSS))
	} else {
		c.failures++
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	ch <- prometheus.MustNewConstMetric(c.heap, prometheus.GaugeValue, float64(ms.HeapAlloc))
	ch <- prometheus.MustNewConstMetric(c.goroutines, prometheus.GaugeValue, float64(runtime.NumGoroutine()))
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, c.failures)
}
