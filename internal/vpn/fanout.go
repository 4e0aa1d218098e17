package vpn

import (
	"context"
	"sync"

	"github.com/blikh/xui-fleet/internal/metrics"
	"github.com/blikh/xui-fleet/internal/pool"
)

// fanOut runs fn against every connection concurrently and joins the
// results. Each connection's outcome lands in its own slot, so one
// server's failure never cancels or aborts the rest.
func (s *Service) fanOut(ctx context.Context, conns []*pool.Connection, op string, fn func(*pool.Connection) error) []error {
	errs := make([]error, len(conns))
	var wg sync.WaitGroup
	for i, conn := range conns {
		wg.Add(1)
		go func(i int, conn *pool.Connection) {
			defer wg.Done()
			errs[i] = fn(conn)
			if errs[i] != nil {
				metrics.FanoutResultsTotal.WithLabelValues(op, "failed").Inc()
				s.logger.Warn("vpn: fan-out step failed",
					"op", op, "server", conn.Server.Name, "err", errs[i])
			} else {
				metrics.FanoutResultsTotal.WithLabelValues(op, "ok").Inc()
			}
		}(i, conn)
	}
	wg.Wait()
	return errs
}

// firstSuccess returns the index of the first nil error, or -1.
func firstSuccess(errs []error) int {
	for i, err := range errs {
		if err == nil {
			return i
		}
	}
	return -1
}

func successCount(errs []error) int {
	n := 0
	for _, err := range errs {
		if err == nil {
			n++
		}
	}
	return n
}
