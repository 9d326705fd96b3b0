// Package harness runs scripted edit scenarios against a real document and
// checks the outcome.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	document: fixtures/timeline.xml
//	steps:
//	  - op: trigger
//	    id: event3
//	    params: { "./tl:sleep/@tl:dur": "42" }
//	    expect:
//	      result: event3-1
//	  - op: paste
//	    path: nothing
//	    where: end
//	    data: "<x />"
//	    expect:
//	      error: NOT_FOUND
//	assertions:
//	  - type: count
//	    count: 37
//	  - type: attribute
//	    path: "//tl:par[@xml:id='event3-1']/tl:sleep"
//	    name: tl:dur
//	    value: "42"
//
// The document path is resolved relative to the scenario file. Tests may
// give the XML inline with the xml key instead.
//
// # Assertion Types
//
//   - count: the document holds exactly N elements
//   - exists / absent: a path resolves, or resolves to nothing
//   - attribute: an element carries an attribute with the given value
//   - generation: the last forwarded batch has the given generation
//   - trace_count: an operation appears exactly N times in the trace
//   - trace_order: operations appear in the given order
//
// # Replay Check
//
// Every scenario runs with an in-process replica attached, so each edit is
// journaled and forwarded. After the last step the harness checks that the
// replica matches the primary and that replaying the recorded history onto
// a fresh copy of the starting document reproduces it too.
//
// # Determinism
//
// Documents run on a clock.FastSource and trace entries are numbered by a
// clock.Sequence, so traces are identical across runs and can be compared
// against golden files with RunWithGolden.
package harness
