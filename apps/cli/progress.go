package main

import (
	"os"

	"github.com/acm19/sortdate/internal/pics"
	"github.com/schollz/progressbar/v3"
)

// progressBar renders pipeline progress events on stderr.
// A nil *progressBar is valid and does nothing.
type progressBar struct {
	bar  *progressbar.ProgressBar
	ch   chan pics.ProgressEvent
	done chan struct{}
}

func newProgressBar(total int, description string) *progressBar {
	p := &progressBar{
		bar: progressbar.NewOptions(total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(description),
			progressbar.OptionSetWidth(20),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionClearOnFinish(),
		),
		ch:   make(chan pics.ProgressEvent, 16),
		done: make(chan struct{}),
	}
	go p.consume()
	return p
}

func (p *progressBar) events() chan<- pics.ProgressEvent {
	return p.ch
}

func (p *progressBar) consume() {
	defer close(p.done)
	for event := range p.ch {
		if event.Total > 0 {
			p.bar.ChangeMax(event.Total)
		}
		_ = p.bar.Set(event.Current)
	}
}

// finish stops consuming events and clears the bar. The pipeline must not
// send after finish is called.
func (p *progressBar) finish() {
	if p == nil {
		return
	}
	close(p.ch)
	<-p.done
	_ = p.bar.Finish()
}
