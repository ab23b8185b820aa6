package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"pdfrag/internal/ingest"
)

// barProgress draws one progress bar per document on stderr.
type barProgress struct {
	bar *progressbar.ProgressBar
}

func newProgress(enabled bool) ingest.Progress {
	if !enabled {
		return nil
	}
	return &barProgress{}
}

func (p *barProgress) Start(source string, total int) {
	if total <= 0 {
		p.bar = nil
		return
	}
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(fmt.Sprintf("embedding %s", source)),
		progressbar.OptionSetWidth(32),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func (p *barProgress) Advance(ingest.ChunkResult) {
	if p.bar == nil {
		return
	}
	_ = p.bar.Add(1)
}

func (p *barProgress) Finish() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
}

func progressEnabled() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}
