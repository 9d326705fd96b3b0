package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stagehand/internal/testutil"
)

func strptr(s string) *string { return &s }

func TestRun_MinimalScenario(t *testing.T) {
	scenario := &Scenario{
		Name:        "minimal",
		Description: "Minimal test scenario",
		XML:         testutil.Document,
		Steps: []Step{
			{Op: OpCut, Path: "third", Expect: &Expect{Result: strptr("<third />")}},
		},
		Assertions: []Assertion{
			{Type: AssertCount, Count: testutil.DocumentCount - 1},
			{Type: AssertGeneration, Generation: 1},
			{Type: AssertAbsent, Path: "third"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Empty(t, result.Errors)

	require.Len(t, result.Trace, 1)
	assert.Equal(t, TraceEvent{Seq: 1, Op: OpCut, Target: "third", Result: "<third />", Generation: 1}, result.Trace[0])
	assert.Equal(t, testutil.DocumentCount-1, result.Count)
	assert.Contains(t, result.Timeline, `tls:generation="1"`)
}

func TestRun_UnexpectedError(t *testing.T) {
	scenario := &Scenario{
		Name:        "unexpected",
		Description: "A failing step without expect fails the scenario",
		XML:         testutil.Document,
		Steps:       []Step{{Op: OpCut, Path: "nothing"}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `expected error "", got "NOT_FOUND"`)
	assert.Equal(t, "NOT_FOUND", result.Trace[0].Error)
	assert.Equal(t, int64(0), result.Generation)
}

func TestRun_ExpectedErrorMissing(t *testing.T) {
	scenario := &Scenario{
		Name:        "missing",
		Description: "An expected error that does not happen fails the scenario",
		XML:         testutil.Document,
		Steps:       []Step{{Op: OpCut, Path: "third", Expect: &Expect{Error: "NOT_FOUND"}}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], `expected error "NOT_FOUND", got ""`)
}

func TestRun_WrongResult(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong_result",
		Description: "A result mismatch fails the scenario",
		XML:         testutil.Events,
		Steps:       []Step{{Op: OpTrigger, ID: "event1", Expect: &Expect{Result: strptr("event1-9")}}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], `expected result "event1-9", got "event1-1"`)
}

func TestRun_EventsAndState(t *testing.T) {
	progress := 0.5
	scenario := &Scenario{
		Name:        "events",
		Description: "Trigger with parameters, then report state",
		XML:         testutil.Events,
		Steps: []Step{
			{Op: OpTrigger, ID: "event2", Params: map[string]string{"./tl:sleep/@tl:dur": "42"}, Expect: &Expect{Result: strptr("event2-1")}},
			{Op: OpTrigger, ID: "event2", Expect: &Expect{Error: "MALFORMED_PAYLOAD"}},
			{Op: OpSetState, States: map[string]StateReport{"event4": {Running: true, Progress: &progress}}},
		},
		Assertions: []Assertion{
			{Type: AssertCount, Count: testutil.EventsCount + 5},
			{Type: AssertAttribute, Path: "//tl:seq[@xml:id='event2-1']/tl:sleep", Name: "tl:dur", Value: "42"},
			{Type: AssertTraceCount, Op: OpTrigger, Count: 2},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, "MALFORMED_PAYLOAD", result.Trace[1].Error)
	assert.Equal(t, OpSetState, result.Trace[2].Op)
}

func TestRun_BadDocument(t *testing.T) {
	_, err := Run(&Scenario{Name: "bad", XML: "<broken", Steps: []Step{{Op: OpCut, Path: "a"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load document")
}

func TestRun_Deterministic(t *testing.T) {
	scenario := &Scenario{
		Name:        "deterministic",
		Description: "Two runs produce the same trace",
		XML:         testutil.Events,
		Steps: []Step{
			{Op: OpTrigger, ID: "event1"},
			{Op: OpEnqueue, ID: "event3"},
			{Op: OpTrigger, ID: "event3-1"},
		},
	}

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.True(t, first.Pass, first.Errors)
	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, first.Timeline, second.Timeline)
}
