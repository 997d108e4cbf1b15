package monitoring

import (
	"sync/atomic"
	"time"
)

// ProgressBar tracks how many items of a long-running task are done. Its
// counters may be updated from any goroutine.
type ProgressBar struct {
	id    string
	name  string
	start time.Time
	total uint64

	finished   atomic.Uint64
	inProgress atomic.Uint64
}

type progressView struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	Total      uint64    `json:"total"`
	Finished   uint64    `json:"finished"`
	InProgress uint64    `json:"in_progress"`
}

// ID returns the unique ID of the bar.
func (b *ProgressBar) ID() string {
	return b.id
}

// IncrementInProgress marks more items as started.
func (b *ProgressBar) IncrementInProgress(amount uint64) {
	b.inProgress.Add(amount)
}

// IncrementFinished marks more items as done.
func (b *ProgressBar) IncrementFinished(amount uint64) {
	b.finished.Add(amount)
}

// SetFinished overwrites the number of finished items. It has the signature
// of a workload progress callback.
func (b *ProgressBar) SetFinished(finished uint64) {
	b.finished.Store(finished)
}

// MoveInProgressToFinished marks started items as done.
func (b *ProgressBar) MoveInProgressToFinished(amount uint64) {
	b.inProgress.Add(^(amount - 1))
	b.finished.Add(amount)
}

func (b *ProgressBar) view() progressView {
	return progressView{
		ID:         b.id,
		Name:       b.name,
		StartTime:  b.start,
		Total:      b.total,
		Finished:   b.finished.Load(),
		InProgress: b.inProgress.Load(),
	}
}
