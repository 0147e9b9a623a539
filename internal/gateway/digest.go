package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/nuka-memory/internal/sleep"
)

const maxDreamText = 400

// Summarize turns a sleep report into a digest.
func Summarize(r sleep.Report) Digest {
	title := "Sleep session finished"
	if r.Stopped {
		title = "Sleep session interrupted"
	}
	d := Digest{
		SessionID: r.ID,
		Title:     title,
		Timestamp: r.FinishedAt,
		Lines: []string{
			fmt.Sprintf("duration %s (slow-wave %s, REM %s)",
				r.Duration.Round(time.Second), r.SlowWave.Round(time.Second), r.REM.Round(time.Second)),
			fmt.Sprintf("%d replays, %d episodes transferred, %d concepts formed",
				r.Replays(), r.Transferred, len(r.Concepts)),
		},
	}
	if r.CrossModalLinks > 0 || r.ProceduralTransfers > 0 {
		d.Lines = append(d.Lines, fmt.Sprintf("%d cross-modal links, %d procedural transfers",
			r.CrossModalLinks, r.ProceduralTransfers))
	}
	if len(r.Errors) > 0 {
		d.Lines = append(d.Lines, fmt.Sprintf("%d errors: %s", len(r.Errors), strings.Join(r.Errors, "; ")))
	}
	if n := r.Dream; n != nil {
		d.DreamType = n.Type.String()
		d.DreamText = truncate(n.Text, maxDreamText)
		d.Insight = n.Insight != nil
	}
	return d
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Markdown renders the digest. bold is the platform's emphasis marker.
func (d Digest) Markdown(bold string) string {
	var b strings.Builder
	b.WriteString(bold + d.Title + bold + "\n")
	for _, l := range d.Lines {
		b.WriteString("• " + l + "\n")
	}
	if d.DreamType != "" {
		b.WriteString(fmt.Sprintf("%sdream (%s)%s", bold, d.DreamType, bold))
		if d.Insight {
			b.WriteString(" with insight")
		}
		b.WriteString("\n> " + d.DreamText + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
