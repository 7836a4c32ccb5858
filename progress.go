package uploadkit

import "time"

// Progress aggregates a set of items for display.
type Progress struct {
	Total     int
	Completed int
	Uploading int
	Queued    int
	Failed    int

	// OverallPct is the share of completed items, 0-100.
	OverallPct float64
	// Throughput is the summed rate of the active transfers in bytes/s.
	Throughput float64
	// RemainingBytes counts what is left of queued and uploading items.
	RemainingBytes int64
	// ETA is only meaningful when ETAKnown is set.
	ETA      time.Duration
	ETAKnown bool
}

// Aggregate computes progress from item snapshots.
func Aggregate(items []Item) Progress {
	p := Progress{Total: len(items)}
	var remaining float64
	for _, it := range items {
		switch it.Status {
		case StatusCompleted:
			p.Completed++
		case StatusUploading:
			p.Uploading++
			p.Throughput += it.Throughput
			remaining += float64(it.Size) * (1 - it.Progress/100)
		case StatusQueued:
			p.Queued++
			remaining += float64(it.Size) * (1 - it.Progress/100)
		case StatusFailed, StatusRejected:
			p.Failed++
		}
	}
	if p.Total > 0 {
		p.OverallPct = 100 * float64(p.Completed) / float64(p.Total)
	}
	p.RemainingBytes = int64(remaining)
	if p.Throughput > 0 {
		p.ETA = time.Duration(remaining / p.Throughput * float64(time.Second))
		p.ETAKnown = true
	}
	return p
}
