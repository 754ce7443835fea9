package netmon

import (
	"context"
	"net"
	"time"

	"github.com/yanun0323/logs"
)

const (
	defaultProbeInterval = 5 * time.Second
	defaultProbeTimeout  = 2 * time.Second
	defaultFailThreshold = 2
)

// Prober dials a TCP address on an interval and drives a Monitor. A
// single success marks the network up; FailThreshold consecutive
// failures mark it down, so one dropped probe does not flap the flag.
type Prober struct {
	Monitor *Monitor
	Addr    string

	Interval      time.Duration
	Timeout       time.Duration
	FailThreshold int
}

// Run probes until ctx ends. It always returns ctx.Err().
func (p *Prober) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	threshold := p.FailThreshold
	if threshold <= 0 {
		threshold = defaultFailThreshold
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.probe(ctx, timeout); err != nil {
				failures++
				if failures == threshold && p.Monitor.Reachable() {
					logs.Errorf("network probe failed %d times, marking down, err: %+v", failures, err)
					p.Monitor.SetReachable(false)
				}
				continue
			}
			if failures >= threshold {
				logs.Infof("network probe recovered after %d failures", failures)
			}
			failures = 0
			p.Monitor.SetReachable(true)
		}
	}
}

func (p *Prober) probe(ctx context.Context, timeout time.Duration) error {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", p.Addr)
	if err != nil {
		return err
	}
	return conn.Close()
}
