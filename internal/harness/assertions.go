package harness

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/stagehand/internal/document"
	"github.com/roach88/stagehand/internal/fault"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s", ev.Seq, ev.Op, ev.Target)
			if ev.Error != "" {
				fmt.Fprintf(&buf, " -> %s", ev.Error)
			}
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

// Inspector is the read side of a document the assertions look at.
type Inspector interface {
	Get(path, mimetype string) (string, error)
	Count() int
	Generation() int64
}

var _ Inspector = (*document.Document)(nil)

func assertCount(doc Inspector, a Assertion) error {
	if got := doc.Count(); got != a.Count {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("%d elements", a.Count),
			Actual:   fmt.Sprintf("%d elements", got),
		}
	}
	return nil
}

func assertGeneration(doc Inspector, a Assertion) error {
	if got := doc.Generation(); got != a.Generation {
		return &AssertionError{
			Type:     AssertGeneration,
			Expected: fmt.Sprintf("generation %d", a.Generation),
			Actual:   fmt.Sprintf("generation %d", got),
		}
	}
	return nil
}

func assertExists(doc Inspector, a Assertion) error {
	if _, err := doc.Get(a.Path, document.MimeXML); err != nil {
		return &AssertionError{
			Type:     AssertExists,
			Expected: fmt.Sprintf("element at %s", a.Path),
			Actual:   err.Error(),
		}
	}
	return nil
}

func assertAbsent(doc Inspector, a Assertion) error {
	got, err := doc.Get(a.Path, document.MimeXML)
	if err == nil {
		return &AssertionError{
			Type:     AssertAbsent,
			Expected: fmt.Sprintf("nothing at %s", a.Path),
			Actual:   got,
		}
	}
	if !fault.Is(err, fault.CodeNotFound) {
		return &AssertionError{
			Type:     AssertAbsent,
			Expected: fmt.Sprintf("nothing at %s", a.Path),
			Actual:   err.Error(),
		}
	}
	return nil
}

func assertAttribute(doc Inspector, a Assertion) error {
	raw, err := doc.Get(a.Path, document.MimeJSON)
	if err != nil {
		return &AssertionError{
			Type:     AssertAttribute,
			Expected: fmt.Sprintf("element at %s", a.Path),
			Actual:   err.Error(),
		}
	}
	var attrs map[string]string
	if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
		return fmt.Errorf("decode attributes of %s: %w", a.Path, err)
	}
	got, ok := attrs[a.Name]
	if !ok {
		return &AssertionError{
			Type:     AssertAttribute,
			Expected: fmt.Sprintf("%s=%q on %s", a.Name, a.Value, a.Path),
			Actual:   "attribute not present",
		}
	}
	if got != a.Value {
		return &AssertionError{
			Type:     AssertAttribute,
			Expected: fmt.Sprintf("%s=%q on %s", a.Name, a.Value, a.Path),
			Actual:   fmt.Sprintf("%s=%q", a.Name, got),
		}
	}
	return nil
}

// assertTraceCount checks that op was executed exactly Count times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Op == a.Op {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Op),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceOrder checks that ops appear in the given order. They need not
// be consecutive.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		if _, seen := positions[ev.Op]; !seen {
			positions[ev.Op] = i + 1
		}
	}

	for _, op := range a.Ops {
		if positions[op] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all ops present: %v", a.Ops),
				Actual:   fmt.Sprintf("missing op: %s", op),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Ops); i++ {
		prev, curr := a.Ops[i-1], a.Ops[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("ops in order: %v", a.Ops),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result and the
// final document. Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, doc Inspector) []string {
	var errors []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertCount:
			err = assertCount(doc, a)
		case AssertGeneration:
			err = assertGeneration(doc, a)
		case AssertExists:
			err = assertExists(doc, a)
		case AssertAbsent:
			err = assertAbsent(doc, a)
		case AssertAttribute:
			err = assertAttribute(doc, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
