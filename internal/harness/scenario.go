package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted sequence of document operations with checks on
// the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Document is the path of the starting XML document. Relative paths
	// are resolved against the scenario file's directory.
	Document string `yaml:"document,omitempty"`

	// XML is an inline starting document, used when Document is empty.
	XML string `yaml:"xml,omitempty"`

	// Mode is the playback mode the document runs in. Empty means
	// standalone.
	Mode string `yaml:"mode,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one document operation.
type Step struct {
	// Op names the operation, one of the Op constants.
	Op string `yaml:"op"`

	// ID is the event identifier for trigger, enqueue, dequeue and modify.
	ID string `yaml:"id,omitempty"`

	// Path addresses the element the operation works on.
	Path string `yaml:"path,omitempty"`

	// Where positions inserted content: begin, end, before, after or
	// replace.
	Where string `yaml:"where,omitempty"`

	// Source is the path of the element copied or moved.
	Source string `yaml:"source,omitempty"`

	Tag      string `yaml:"tag,omitempty"`
	Data     string `yaml:"data,omitempty"`
	Mimetype string `yaml:"mimetype,omitempty"`

	// Params maps parameter paths to values for event operations.
	Params map[string]string `yaml:"params,omitempty"`

	// States reports element lifecycle for setState.
	States map[string]StateReport `yaml:"states,omitempty"`

	// Expect, when set, is checked against the step's outcome. A step
	// without Expect must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// StateReport is the YAML form of one element's reported state.
type StateReport struct {
	Running  bool     `yaml:"running"`
	Progress *float64 `yaml:"progress,omitempty"`
}

// Expect describes the expected outcome of a step.
type Expect struct {
	// Error is the expected fault code. Empty means success.
	Error string `yaml:"error,omitempty"`

	// Result, when set, must equal the step's returned value.
	Result *string `yaml:"result,omitempty"`
}

// Step operations.
const (
	OpPaste            = "paste"
	OpCut              = "cut"
	OpCopy             = "copy"
	OpMove             = "move"
	OpModifyAttributes = "modifyAttributes"
	OpModifyData       = "modifyData"
	OpTrigger          = "trigger"
	OpEnqueue          = "enqueue"
	OpDequeue          = "dequeue"
	OpModify           = "modify"
	OpSetState         = "setState"
)

// Assertion validates the trace or the final document.
type Assertion struct {
	// Type is one of the Assert constants.
	Type string `yaml:"type"`

	// Path is the element path (exists, absent, attribute).
	Path string `yaml:"path,omitempty"`

	// Name and Value are the attribute checked by attribute.
	Name  string `yaml:"name,omitempty"`
	Value string `yaml:"value,omitempty"`

	// Count is the expected number (count, trace_count).
	Count int `yaml:"count,omitempty"`

	// Generation is the expected final generation.
	Generation int64 `yaml:"generation,omitempty"`

	// Op is the operation counted by trace_count.
	Op string `yaml:"op,omitempty"`

	// Ops is the expected operation order (trace_order).
	Ops []string `yaml:"ops,omitempty"`
}

// Assertion type constants.
const (
	AssertCount      = "count"
	AssertExists     = "exists"
	AssertAbsent     = "absent"
	AssertAttribute  = "attribute"
	AssertGeneration = "generation"
	AssertTraceCount = "trace_count"
	AssertTraceOrder = "trace_order"
)

// LoadScenario reads and parses a scenario YAML file, resolving the
// document path relative to the file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the document path relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Document != "" && !filepath.IsAbs(scenario.Document) && basePath != "" {
		scenario.Document = filepath.Join(basePath, scenario.Document)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch {
	case s.Document == "" && s.XML == "":
		return fmt.Errorf("document or xml is required")
	case s.Document != "" && s.XML != "":
		return fmt.Errorf("document and xml are mutually exclusive")
	case s.Document != "":
		if _, err := os.Stat(s.Document); os.IsNotExist(err) {
			return fmt.Errorf("document not found: %s", s.Document)
		}
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateStep checks the fields each operation needs. Values the document
// itself rejects, such as an unknown where, are left for the run so they
// can be expected as errors.
func validateStep(index int, s *Step) error {
	need := func(field, value string) error {
		if value == "" {
			return fmt.Errorf("steps[%d]: %s is required for %s", index, field, s.Op)
		}
		return nil
	}

	switch s.Op {
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	case OpPaste:
		if err := need("path", s.Path); err != nil {
			return err
		}
		return need("data", s.Data)
	case OpCut, OpModifyAttributes, OpModifyData:
		return need("path", s.Path)
	case OpCopy, OpMove:
		if err := need("path", s.Path); err != nil {
			return err
		}
		return need("source", s.Source)
	case OpTrigger, OpEnqueue, OpDequeue, OpModify:
		return need("id", s.ID)
	case OpSetState:
		if len(s.States) == 0 {
			return fmt.Errorf("steps[%d]: states is required for %s", index, s.Op)
		}
		return nil
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, s.Op)
	}
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertCount, AssertGeneration:
		if a.Count < 0 || a.Generation < 0 {
			return fmt.Errorf("assertions[%d]: %s must be non-negative", index, a.Type)
		}
	case AssertExists, AssertAbsent:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for %s", index, a.Type)
		}
	case AssertAttribute:
		if a.Path == "" || a.Name == "" {
			return fmt.Errorf("assertions[%d]: path and name are required for attribute", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
