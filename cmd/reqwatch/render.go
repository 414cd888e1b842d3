package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/codeMaster/reqtrace/internal/client"
	"github.com/codeMaster/reqtrace/internal/model"
	"github.com/codeMaster/reqtrace/internal/protocol"
	"github.com/fatih/color"
)

// printer serializes output from the client's callbacks.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

var opColors = map[model.Operation]*color.Color{
	model.OpCreated: color.New(color.FgGreen),
	model.OpUpdated: color.New(color.FgYellow),
	model.OpDeleted: color.New(color.FgRed),
}

func (p *printer) state(s client.State) {
	c := color.New(color.FgCyan)
	if s == client.Disconnected {
		c = color.New(color.FgRed, color.Bold)
	}
	p.printf("%s %s\n", color.New(color.Faint).Sprint("--"), c.Sprint(s.String()))
}

func (p *printer) update(u protocol.UpdatePayload) {
	op := string(u.Operation)
	if c, ok := opColors[u.Operation]; ok {
		op = c.Sprint(op)
	}
	p.printf("#%-4d %s %-8s %s %s\n",
		u.Seq, u.Timestamp.Format("15:04:05"), op, u.EntityKind, color.New(color.Bold).Sprint(u.EntityID))
}

func (p *printer) requirement(r *model.Requirement, err error) {
	if err != nil {
		p.printf("%s %v\n", color.New(color.FgRed).Sprint("fetch failed:"), err)
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "  %s %s\n", color.New(color.Bold).Sprint(r.Title), color.New(color.Faint).Sprintf("(%s)", r.ID))
	fmt.Fprintf(&b, "  type=%s priority=%s status=%s\n", r.Type, r.Priority, r.Status)
	if r.ParentID != "" {
		fmt.Fprintf(&b, "  parent=%s\n", r.ParentID)
	}
	if len(r.Tags) > 0 {
		fmt.Fprintf(&b, "  tags=%s\n", strings.Join(r.Tags, ","))
	}
	if v := r.LastValidation; v != nil {
		verdict := color.New(color.FgGreen).Sprint("passed")
		if !v.Passed {
			verdict = color.New(color.FgRed).Sprint("failed")
		}
		fmt.Fprintf(&b, "  validation=%.2f %s\n", v.Score, verdict)
	}
	if r.Description != "" {
		fmt.Fprintf(&b, "  %s\n", r.Description)
	}
	p.printf("%s", b.String())
}

func (p *printer) message(env protocol.Envelope) {
	switch env.Type {
	case protocol.Error:
		var e protocol.ErrorPayload
		_ = env.Into(&e)
		p.printf("%s %s\n", color.New(color.FgRed).Sprint("error:"), e.Message)
	case protocol.Response:
		var r protocol.ResponsePayload
		_ = env.Into(&r)
		if r.ProjectID != "" {
			p.printf("%s %s\n", color.New(color.Faint).Sprint(r.Status), r.ProjectID)
		}
	}
}
