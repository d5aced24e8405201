package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/loykin/launchr"
)

// renderer prints status records as coloured progress lines, skipping repeats.
type renderer struct {
	w     io.Writer
	last  launchr.Status
	shown bool

	stage *color.Color
	ok    *color.Color
	warn  *color.Color
	fail  *color.Color
	dim   *color.Color
}

func newRenderer(w io.Writer, colored bool) *renderer {
	r := &renderer{
		w:     w,
		stage: color.New(color.FgCyan, color.Bold),
		ok:    color.New(color.FgGreen, color.Bold),
		warn:  color.New(color.FgYellow),
		fail:  color.New(color.FgRed, color.Bold),
		dim:   color.New(color.Faint),
	}
	for _, c := range []*color.Color{r.stage, r.ok, r.warn, r.fail, r.dim} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return r
}

func (r *renderer) colorFor(s launchr.Stage) *color.Color {
	switch s {
	case launchr.StageReady:
		return r.ok
	case launchr.StageError:
		return r.fail
	case launchr.StageDownloadingModel:
		return r.warn
	default:
		return r.stage
	}
}

func (r *renderer) render(rec launchr.Status) {
	if r.shown && rec == r.last {
		return
	}
	prevErr := r.last.LastError
	r.last, r.shown = rec, true
	_, _ = r.colorFor(rec.Stage).Fprintf(r.w, "%-20s", "["+rec.Stage.String()+"]")
	_, _ = fmt.Fprintf(r.w, " %s\n", rec.Message)
	if rec.LastError != "" && rec.LastError != prevErr {
		_, _ = r.fail.Fprintf(r.w, "%-20s %s\n", "", rec.LastError)
	}
}

func (r *renderer) notice(msg string) {
	_, _ = r.dim.Fprintln(r.w, msg)
}

// guidance tells the user how to recover from the error stage.
func (r *renderer) guidance(healthURL string) {
	_, _ = r.warn.Fprintln(r.w, "The backend did not become ready.")
	_, _ = fmt.Fprintf(r.w, "Start it manually and check that %s answers, then run launchr again.\n", healthURL)
	_, _ = fmt.Fprintln(r.w, "Use 'launchr paths' to see where the bundled backend is looked for.")
}
