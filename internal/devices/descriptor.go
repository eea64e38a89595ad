// Package devices provides device descriptors and a generic device
// implementation of the master's Device interface. Device protocol specifics
// (object dictionaries, vendor state machines) belong to dedicated
// implementations outside this package.
package devices

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema/device-descriptor-v1.json
var descriptorSchemaJSON string

// Descriptor declares one device: its name on the bus, the slave address
// and the process-data image sizes.
type Descriptor struct {
	Name        string `yaml:"name" json:"name"`
	Vendor      string `yaml:"vendor" json:"vendor"`
	Address     uint32 `yaml:"address" json:"address"`
	InputBytes  int    `yaml:"input_bytes" json:"input_bytes"`
	OutputBytes int    `yaml:"output_bytes" json:"output_bytes"`
	DCSync0     bool   `yaml:"dc_sync0" json:"dc_sync0"`
}

// Validator checks descriptor documents against the embedded schema.
type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("device-descriptor-v1.json",
		strings.NewReader(descriptorSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("device-descriptor-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// Validate checks one YAML descriptor document. The document is routed
// through JSON so the schema library sees the value types it expects.
func (v *Validator) Validate(data []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}

	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("descriptor not JSON-representable: %w", err)
	}
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return fmt.Errorf("invalid descriptor document: %w", err)
	}

	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}

// LoadDescriptor reads and validates a YAML descriptor file.
func LoadDescriptor(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("failed to read descriptor %s: %w", path, err)
	}
	return ParseDescriptor(data)
}

// LoadDescriptors reads every *.yaml descriptor under the given search
// paths. Order is deterministic: paths in the given order, files sorted
// within each path. Descriptor order matters downstream - attachment order
// is cycle order.
func LoadDescriptors(searchPaths []string) ([]Descriptor, error) {
	var all []Descriptor
	for _, dir := range searchPaths {
		matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
		}
		sort.Strings(matches)
		for _, path := range matches {
			d, err := LoadDescriptor(path)
			if err != nil {
				return nil, err
			}
			all = append(all, d)
		}
	}
	return all, nil
}

// MergeSync0Addresses appends the bus address of every descriptor requesting
// a sync0 signal to the configured address list, skipping duplicates. The
// result feeds distributed-clock alignment on startup.
func MergeSync0Addresses(configured []uint32, descs []Descriptor) []uint32 {
	out := append([]uint32(nil), configured...)
	for _, d := range descs {
		if !d.DCSync0 || slices.Contains(out, d.Address) {
			continue
		}
		out = append(out, d.Address)
	}
	return out
}

// ParseDescriptor validates and decodes one YAML descriptor document.
func ParseDescriptor(data []byte) (Descriptor, error) {
	validator, err := NewValidator()
	if err != nil {
		return Descriptor{}, err
	}
	if err := validator.Validate(data); err != nil {
		return Descriptor{}, err
	}

	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Descriptor{}, fmt.Errorf("failed to decode descriptor: %w", err)
	}
	return d, nil
}
