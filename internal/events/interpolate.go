package events

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/roach88/stagehand/internal/clock"
	"github.com/roach88/stagehand/internal/fault"
	"github.com/roach88/stagehand/internal/tree"
)

// computeValue evaluates a value template. A template with exactly one
// {...} span has the span replaced:
//
//	{clock(.)}   elapsed time of the event element
//	{clock(..)}  elapsed time of its trigger target
//	{value()}    the value the user supplied
//	{path}       the text of the elements (or values of the attributes)
//	             path selects, relative to the event element
//
// Anything else is returned unchanged. A path that cannot be evaluated is
// logged and the template is kept literally.
func (e *Engine) computeValue(tmpl, value string, w *writer) string {
	open := strings.IndexByte(tmpl, '{')
	end := strings.IndexByte(tmpl, '}')
	if open < 0 || end < open || strings.Count(tmpl, "{") != 1 || strings.Count(tmpl, "}") != 1 {
		return tmpl
	}
	expr := tmpl[open+1 : end]

	var result string
	switch expr {
	case "clock(.)":
		result = e.elapsed(w.self, w)
	case "clock(..)":
		result = e.elapsed(w.target, w)
	case "value()":
		result = value
	default:
		v, err := e.lookup(expr, w)
		if err != nil {
			slog.Error("cannot compute value", "expression", expr, "error", err)
			return tmpl
		}
		result = v
	}
	return tmpl[:open] + result + tmpl[end+1:]
}

// elapsed returns the time since n was started, or the clock time when n
// carries no epoch, in seconds.
func (e *Engine) elapsed(n *tree.Node, w *writer) string {
	now := clock.Seconds(e.clock.Now())
	if n != nil {
		if raw, ok := w.attr(n, AttrEpoch); ok {
			if epoch, err := strconv.ParseFloat(raw, 64); err == nil {
				now -= epoch
			}
		}
	}
	return formatSeconds(now)
}

func (e *Engine) lookup(expr string, w *writer) (string, error) {
	elemPath, attr := tree.SplitAttr(expr)
	nodes, err := w.resolve(elemPath)
	if err != nil {
		return "", fault.Interpolation(expr)
	}
	var sb strings.Builder
	for _, n := range nodes {
		if attr == "" {
			sb.WriteString(n.TextContent())
			continue
		}
		if v, ok := w.attr(n, attr); ok {
			sb.WriteString(v)
		}
	}
	return sb.String(), nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}
