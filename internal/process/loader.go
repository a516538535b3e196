package process

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/assessd/internal/contract"
)

const maxDefinitionSize = 4 * 1024 * 1024 // 4MB

// Parse decodes a YAML definition. Unknown keys are rejected so that a
// misspelled option fails loudly instead of silently taking its default.
func Parse(data []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidDefinition)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}
	return &def, nil
}

// ReadFile parses the definition at path without validating it.
func ReadFile(path string) (*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open definition: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat definition: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("definition path %s is a directory", path)
	}
	if info.Size() > maxDefinitionSize {
		return nil, fmt.Errorf("definition too large: %d bytes (max %d)", info.Size(), maxDefinitionSize)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition: %w", err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// Register adds the definition's inline contracts to reg.
func (d *Definition) Register(reg *contract.Registry) error {
	var errs []error
	for _, c := range d.Contracts {
		if err := reg.Register(c.Kind, c.Input, c.Output, c.Metadata, c.Execution); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Load reads, registers and validates the definition at path, then seals
// reg. On error reg is left unsealed.
func Load(path string, reg *contract.Registry) (*Definition, error) {
	def, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := Prepare(def, reg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// Prepare registers def's contracts into reg, validates def against it and
// seals reg.
func Prepare(def *Definition, reg *contract.Registry) error {
	if err := def.Register(reg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}
	if err := Validate(def, reg); err != nil {
		return err
	}
	reg.Seal()
	return nil
}
