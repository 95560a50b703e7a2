package triggers

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nenadatanasovski/memory-cube/internal/types"
)

// rulesFile is the serialized shape of triggers.yaml
type rulesFile struct {
	Triggers []*Trigger `yaml:"triggers"`
}

// LoadRules reads a rule table from a yaml file and registers every
// rule. A missing file is not an error; the table is simply empty.
func (e *Engine) LoadRules(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, types.Wrap(types.KindIO, "triggers.load", err)
	}
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, types.Wrap(types.KindInvalidInput, "triggers.load", err)
	}
	count := 0
	for _, t := range file.Triggers {
		if err := e.Register(t); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// defaultRules is written once by WriteDefaultRules as a starting
// point: a stale-documentation rule, disabled until the operator opts
// in.
const defaultRules = `# Trigger rules. Each rule matches event types, checks conditions,
# and runs actions in order. Rules fire by priority (descending).
triggers:
  - id: stale-docs
    name: Mark documentation stale when code changes
    enabled: false
    event_types:
      - node.updated
    conditions:
      node_types: [code]
    actions:
      - type: invalidate
        params:
          nodeId: "{{event.payload.nodeId}}"
`

// WriteDefaultRules writes the example rule file when none exists
func WriteDefaultRules(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return types.Wrap(types.KindIO, "triggers.write_default", err)
	}
	if err := os.WriteFile(path, []byte(defaultRules), 0644); err != nil {
		return types.Wrap(types.KindIO, "triggers.write_default", err)
	}
	return nil
}

// SaveRules writes the rule table back to a yaml file, priority order
func (e *Engine) SaveRules(path string) error {
	data, err := yaml.Marshal(rulesFile{Triggers: e.List()})
	if err != nil {
		return types.Wrap(types.KindIO, "triggers.save", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return types.Wrap(types.KindIO, "triggers.save", err)
	}
	return nil
}
