package ui

import (
	"fmt"
	"sync/atomic"
)

// Progress counts migrated/skipped/failed items across concurrent workers.
type Progress struct {
	total   int64
	done    int64
	skipped int64
	failed  int64
}

// NewProgress returns a counter expecting total items. Zero total is fine;
// the renderer just omits the denominator.
func NewProgress(total int) *Progress {
	return &Progress{total: int64(total)}
}

func (p *Progress) Done()    { atomic.AddInt64(&p.done, 1) }
func (p *Progress) Skipped() { atomic.AddInt64(&p.skipped, 1) }
func (p *Progress) Failed()  { atomic.AddInt64(&p.failed, 1) }

// Counts returns the current done/skipped/failed tallies.
func (p *Progress) Counts() (done, skipped, failed int64) {
	return atomic.LoadInt64(&p.done), atomic.LoadInt64(&p.skipped), atomic.LoadInt64(&p.failed)
}

// Summary renders a one-line tally like "12 migrated, 3 skipped, 1 failed".
func (p *Progress) Summary() string {
	done, skipped, failed := p.Counts()
	s := fmt.Sprintf("%s migrated, %s skipped",
		RenderPass(fmt.Sprintf("%d", done)),
		RenderMuted(fmt.Sprintf("%d", skipped)))
	if failed > 0 {
		s += ", " + RenderFail(fmt.Sprintf("%d failed", failed))
	}
	return s
}
