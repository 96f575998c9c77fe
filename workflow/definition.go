package workflow

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ToJSON converts a Workflow to an indented JSON string.
func (w *Workflow) ToJSON() (string, error) {
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	return string(data), nil
}

// ToYAML converts a Workflow to a YAML string.
func (w *Workflow) ToYAML() (string, error) {
	data, err := yaml.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("failed to marshal to YAML: %w", err)
	}
	return string(data), nil
}

// FromJSON creates a Workflow from a JSON string. Only structural decoding
// happens here; executable-ness is the validator's call.
func FromJSON(jsonStr string) (*Workflow, error) {
	var wf Workflow
	if err := json.Unmarshal([]byte(jsonStr), &wf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal from JSON: %w", err)
	}
	return &wf, nil
}

// FromYAML creates a Workflow from a YAML string.
func FromYAML(yamlStr string) (*Workflow, error) {
	var wf Workflow
	if err := yaml.Unmarshal([]byte(yamlStr), &wf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal from YAML: %w", err)
	}
	return &wf, nil
}

// LoadFromJSONFile loads a Workflow from a JSON file.
func LoadFromJSONFile(filename string) (*Workflow, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return FromJSON(string(data))
}

// LoadFromYAMLFile loads a Workflow from a YAML file.
func LoadFromYAMLFile(filename string) (*Workflow, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return FromYAML(string(data))
}

// SaveToJSONFile saves a Workflow to a JSON file.
func (w *Workflow) SaveToJSONFile(filename string) error {
	jsonStr, err := w.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal workflow to JSON: %w", err)
	}
	return os.WriteFile(filename, []byte(jsonStr), 0o644)
}

// SaveToYAMLFile saves a Workflow to a YAML file.
func (w *Workflow) SaveToYAMLFile(filename string) error {
	yamlStr, err := w.ToYAML()
	if err != nil {
		return fmt.Errorf("marshal workflow to YAML: %w", err)
	}
	return os.WriteFile(filename, []byte(yamlStr), 0o644)
}
