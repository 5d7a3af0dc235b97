package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario describes a small cluster of nodes, the operations run against
// them in order and the state expected at the end.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden files are named after it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Transport is "local" (peers read each other's store directly) or
	// "http" (every node is served over HTTP and peers are HTTP clients).
	Transport string `yaml:"transport,omitempty"`

	Nodes      []NodeSpec  `yaml:"nodes"`
	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Transports.
const (
	TransportLocal = "local"
	TransportHTTP  = "http"
)

// NodeSpec declares one node of the cluster.
type NodeSpec struct {
	Name string `yaml:"name"`

	// Clock is the node's start time in epoch milliseconds. Every write
	// advances it by one.
	Clock int64 `yaml:"clock"`

	// Peers are the nodes this node pulls from.
	Peers []string `yaml:"peers,omitempty"`

	Hash    string `yaml:"hash,omitempty"`
	Cluster string `yaml:"cluster,omitempty"`
}

// Step runs exactly one operation on Node.
type Step struct {
	Node string `yaml:"node"`

	Upload   []Item      `yaml:"upload,omitempty"`
	Update   *UpdateStep `yaml:"update,omitempty"`
	Sync     string      `yaml:"sync,omitempty"`
	Maintain bool        `yaml:"maintain,omitempty"`

	// Advance moves the node clock forward by this many milliseconds.
	Advance int64 `yaml:"advance,omitempty"`

	// Expect is matched against the step's outcome counters. Only the
	// listed counters are checked.
	Expect map[string]int `yaml:"expect,omitempty"`
}

// Item is one uploaded string. A bare scalar is shorthand for {text: ...}.
type Item struct {
	Text string `yaml:"text"`

	// Parsed is the structured representation, if any.
	Parsed string `yaml:"parsed,omitempty"`

	// Canonical names the canonical string by its text.
	Canonical string `yaml:"canonical,omitempty"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (it *Item) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&it.Text)
	}
	type plain Item
	return value.Decode((*plain)(it))
}

// UpdateStep changes the metadata of the string with the given text.
type UpdateStep struct {
	Text string `yaml:"text"`

	// Canonical names the new canonical string by its text. An empty
	// string makes the record its own canonical.
	Canonical *string `yaml:"canonical,omitempty"`
	Deleted   *bool   `yaml:"deleted,omitempty"`
}

// Op returns the name of the step's operation.
func (s Step) Op() string {
	switch {
	case len(s.Upload) > 0:
		return OpUpload
	case s.Update != nil:
		return OpUpdate
	case s.Sync != "":
		return OpSync
	case s.Maintain:
		return OpMaintain
	case s.Advance > 0:
		return OpAdvance
	default:
		return ""
	}
}

// Step operations.
const (
	OpUpload   = "upload"
	OpUpdate   = "update"
	OpSync     = "sync"
	OpMaintain = "maintain"
	OpAdvance  = "advance"
)

// Assertion validates the final state of one or more nodes.
type Assertion struct {
	// Type specifies the assertion type:
	// - "record": the string Text on Node has the expected metadata
	// - "count": Node holds Count strings
	// - "clusters": Node holds Count clusters
	// - "converged": all Nodes hold identical records
	// - "history": the history of Text on Node has exactly Sources
	Type string `yaml:"type"`

	Node  string   `yaml:"node,omitempty"`
	Nodes []string `yaml:"nodes,omitempty"`
	Text  string   `yaml:"text,omitempty"`

	// Absent expects the string to be unknown (used by record).
	Absent bool `yaml:"absent,omitempty"`

	// Deleted and Canonical are checked when set (used by record).
	Deleted   *bool   `yaml:"deleted,omitempty"`
	Canonical *string `yaml:"canonical,omitempty"`

	Count   int      `yaml:"count,omitempty"`
	Sources []string `yaml:"sources,omitempty"`
}

// Assertion type constants.
const (
	AssertRecord    = "record"
	AssertCount     = "count"
	AssertClusters  = "clusters"
	AssertConverged = "converged"
	AssertHistory   = "history"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and that steps
// and assertions only name declared nodes.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	switch s.Transport {
	case "", TransportLocal, TransportHTTP:
	default:
		return fmt.Errorf("unknown transport %q", s.Transport)
	}
	if len(s.Nodes) == 0 {
		return fmt.Errorf("nodes list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	nodes := make(map[string]NodeSpec, len(s.Nodes))
	for i, n := range s.Nodes {
		if n.Name == "" {
			return fmt.Errorf("nodes[%d]: name is required", i)
		}
		if _, dup := nodes[n.Name]; dup {
			return fmt.Errorf("nodes[%d]: duplicate node %q", i, n.Name)
		}
		nodes[n.Name] = n
	}
	for _, n := range s.Nodes {
		for _, p := range n.Peers {
			if _, ok := nodes[p]; !ok || p == n.Name {
				return fmt.Errorf("node %s: invalid peer %q", n.Name, p)
			}
		}
	}

	for i, step := range s.Steps {
		if _, ok := nodes[step.Node]; !ok {
			return fmt.Errorf("steps[%d]: unknown node %q", i, step.Node)
		}
		if n := countOps(step); n != 1 {
			return fmt.Errorf("steps[%d]: exactly one operation is required, got %d", i, n)
		}
		if step.Sync != "" && !hasPeer(nodes[step.Node], step.Sync) {
			return fmt.Errorf("steps[%d]: %s has no peer %q", i, step.Node, step.Sync)
		}
		if step.Update != nil && step.Update.Text == "" {
			return fmt.Errorf("steps[%d].update: text is required", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a, nodes); err != nil {
			return err
		}
	}
	return nil
}

func countOps(s Step) int {
	n := 0
	if len(s.Upload) > 0 {
		n++
	}
	if s.Update != nil {
		n++
	}
	if s.Sync != "" {
		n++
	}
	if s.Maintain {
		n++
	}
	if s.Advance > 0 {
		n++
	}
	return n
}

func hasPeer(n NodeSpec, name string) bool {
	for _, p := range n.Peers {
		if p == name {
			return true
		}
	}
	return false
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, nodes map[string]NodeSpec) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Type != AssertConverged {
		if _, ok := nodes[a.Node]; !ok {
			return fmt.Errorf("assertions[%d]: unknown node %q", index, a.Node)
		}
	}

	switch a.Type {
	case AssertRecord:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for record", index)
		}
	case AssertCount, AssertClusters:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertConverged:
		if len(a.Nodes) < 2 {
			return fmt.Errorf("assertions[%d]: at least two nodes are required for converged", index)
		}
		for _, n := range a.Nodes {
			if _, ok := nodes[n]; !ok {
				return fmt.Errorf("assertions[%d]: unknown node %q", index, n)
			}
		}
	case AssertHistory:
		if a.Text == "" || len(a.Sources) == 0 {
			return fmt.Errorf("assertions[%d]: text and sources are required for history", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
