package metric

import (
	"context"
	"log"
	"runtime"
	"strconv"
	"time"
)

// RuntimeMemoryMetric samples heap, GC and scheduler pressure and writes
// one report line per interval. The zero value is ready to use; Print
// reuses one fixed buffer so reporting itself does not allocate.
type RuntimeMemoryMetric struct {
	buf        [2048]byte
	prev, curr runtime.MemStats
	prevAt     time.Time
	currAt     time.Time
}

// RunReportSchedule samples and prints every interval until ctx ends.
func (m *RuntimeMemoryMetric) RunReportSchedule(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Snapshot()
			m.Print()
		}
	}
}

// Snapshot rotates the previous sample out and reads fresh memstats.
func (m *RuntimeMemoryMetric) Snapshot() {
	m.prev, m.curr = m.curr, m.prev
	m.prevAt = m.currAt
	m.currAt = time.Now()

	runtime.ReadMemStats(&m.curr)

	if m.prevAt.IsZero() {
		m.prevAt = m.currAt
	}
}

// Print writes one report line to the log writer.
func (m *RuntimeMemoryMetric) Print() {
	line := m.buf[:0]

	line = append(line, "[TIME] "...)
	line = strconv.AppendInt(line, m.currAt.Unix(), 10)
	line = append(line, "  "...)

	dt := m.currAt.Sub(m.prevAt).Seconds()
	if dt <= 0 {
		dt = 1
	}

	line = m.appendHeap(line, dt)
	line = m.appendGC(line)
	line = m.appendSched(line)

	line = append(line, '\n')
	_, _ = log.Writer().Write(line)
}

func (m *RuntimeMemoryMetric) appendHeap(line []byte, dt float64) []byte {
	line = append(line, "[HEAP] "...)

	line = append(line, "alc_grow="...)
	b, unit := bytesCarry(m.curr.TotalAlloc - m.prev.TotalAlloc)
	line = strconv.AppendUint(line, b, 10)
	line = append(line, unit...)

	line = append(line, "\talc="...)
	b, unit = bytesCarry(m.curr.HeapAlloc)
	line = strconv.AppendUint(line, b, 10)
	line = append(line, unit...)

	line = append(line, "\tinuse="...)
	b, unit = bytesCarry(m.curr.HeapInuse)
	line = strconv.AppendUint(line, b, 10)
	line = append(line, unit...)

	line = append(line, "\tobject="...)
	line = strconv.AppendUint(line, m.curr.HeapObjects, 10)

	line = append(line, "\talc_rate="...)
	rate := float64(m.curr.TotalAlloc-m.prev.TotalAlloc) / dt
	rb, runit := bytesCarryFloat(rate)
	line = strconv.AppendFloat(line, rb, 'f', 2, 64)
	line = append(line, runit...)
	line = append(line, "/s"...)

	return line
}

func (m *RuntimeMemoryMetric) appendGC(line []byte) []byte {
	line = append(line, "\t[GC] "...)

	line = append(line, "times="...)
	line = strconv.AppendUint(line, uint64(m.curr.NumGC-m.prev.NumGC), 10)

	line = append(line, "\tstw="...)
	stwMs := float64(m.curr.PauseTotalNs-m.prev.PauseTotalNs) / 1_000_000.0
	line = strconv.AppendFloat(line, stwMs, 'f', 4, 64)
	line = append(line, "ms"...)

	line = append(line, "\tnext_gc="...)
	b, unit := bytesCarry(m.curr.NextGC)
	line = strconv.AppendUint(line, b, 10)
	line = append(line, unit...)

	line = append(line, "\tgc_cpu="...)
	line = strconv.AppendFloat(line, m.curr.GCCPUFraction, 'f', 6, 64)

	line = append(line, "\tlive="...)
	live := int64(m.curr.Mallocs) - int64(m.curr.Frees)
	line = strconv.AppendInt(line, live, 10)

	return line
}

// appendSched adds scheduler load. Goroutine count tracks connection
// count closely in this server, so a leak shows up here first.
func (m *RuntimeMemoryMetric) appendSched(line []byte) []byte {
	line = append(line, "\t[SCHED] goroutines="...)
	line = strconv.AppendInt(line, int64(runtime.NumGoroutine()), 10)
	return line
}

const carryThreshold = 1 << 15

func bytesCarry(value uint64) (uint64, string) {
	if value < carryThreshold {
		return value, " B"
	}
	value >>= 10
	if value < carryThreshold {
		return value, " KB"
	}
	value >>= 10
	if value < carryThreshold {
		return value, " MB"
	}
	return value >> 10, " GB"
}

func bytesCarryFloat(value float64) (float64, string) {
	if value < float64(carryThreshold) {
		return value, " B"
	}
	value /= 1024
	if value < float64(carryThreshold) {
		return value, " KB"
	}
	value /= 1024
	if value < float64(carryThreshold) {
		return value, " MB"
	}
	return value / 1024, " GB"
}
