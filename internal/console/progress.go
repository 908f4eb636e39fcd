package console

import (
	"io"
	"sync/atomic"

	"github.com/cheggaaa/pb"
)

// Progress counts transferred bytes, drawing a bar on terminals.
type Progress struct {
	bar     *pb.ProgressBar
	written atomic.Int64
}

// Progress starts a byte progress tracker for a transfer of total bytes.
func (c *Console) Progress(total int64, label string) *Progress {
	p := &Progress{}
	if !c.tty || total <= 0 {
		return p
	}

	bar := pb.New64(total)
	bar.SetUnits(pb.U_BYTES)
	bar.Output = c.out
	bar.ShowSpeed = true
	bar.Prefix(label + " ")
	bar.Start()
	p.bar = bar
	return p
}

var _ io.Writer = (*Progress)(nil)

// Write records len(b) transferred bytes.
func (p *Progress) Write(b []byte) (int, error) {
	p.written.Add(int64(len(b)))
	if p.bar != nil {
		return p.bar.Write(b)
	}
	return len(b), nil
}

// Written returns the bytes recorded so far.
func (p *Progress) Written() int64 {
	return p.written.Load()
}

// Finish stops the bar.
func (p *Progress) Finish() {
	if p.bar != nil {
		p.bar.Finish()
	}
}
