package collect

import "github.com/TobiSchelling/BidRadar/internal/notice"

// Batch is one adapter's output.
type Batch struct {
	Source  string
	Notices []notice.Notice
}

// Merge flattens batches in order, tagging untagged notices with their
// batch's source. It never deduplicates and never touches force-pass flags.
func Merge(batches []Batch) []notice.Notice {
	total := 0
	for _, b := range batches {
		total += len(b.Notices)
	}
	out := make([]notice.Notice, 0, total)
	for _, b := range batches {
		for _, n := range b.Notices {
			if n.Source == "" {
				n.Source = b.Source
			}
			out = append(out, n)
		}
	}
	return out
}
