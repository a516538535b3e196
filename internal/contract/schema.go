package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FieldType is the structural type of a schema field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeObject  FieldType = "object"
	TypeArray   FieldType = "array"
	TypeAny     FieldType = "any"
)

// Schema describes the shape of a task's input or output document. It is
// declared in YAML and compiled to JSON Schema for validation.
type Schema struct {
	Fields map[string]Field `yaml:"fields" json:"fields"`
	// AllowUnknown accepts top-level keys that are not declared.
	AllowUnknown bool `yaml:"allow_unknown" json:"allow_unknown,omitempty"`
}

// Field is one declared value. Min and Max bound numbers inclusively;
// Items describes array elements and Fields describes object members.
// A null member counts as absent.
type Field struct {
	Type         FieldType        `yaml:"type" json:"type"`
	Required     bool             `yaml:"required" json:"required,omitempty"`
	Enum         []any            `yaml:"enum" json:"enum,omitempty"`
	Min          *float64         `yaml:"min" json:"min,omitempty"`
	Max          *float64         `yaml:"max" json:"max,omitempty"`
	Items        *Field           `yaml:"items" json:"items,omitempty"`
	Fields       map[string]Field `yaml:"fields" json:"fields,omitempty"`
	AllowUnknown bool             `yaml:"allow_unknown" json:"allow_unknown,omitempty"`
	Description  string           `yaml:"description" json:"description,omitempty"`
}

// FieldError points at one violation inside a document.
type FieldError struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

func (e FieldError) Error() string {
	if e.Path == "" {
		return e.Reason
	}
	return e.Path + ": " + e.Reason
}

// FieldErrors formats a list of violations as one message.
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	parts := make([]string, len(fe))
	for i, e := range fe {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

// Paths returns the offending field paths in order.
func (fe FieldErrors) Paths() []string {
	out := make([]string, len(fe))
	for i, e := range fe {
		out[i] = e.Path
	}
	return out
}

// Check reports whether the schema itself is well formed.
func (s Schema) Check() error {
	var problems FieldErrors
	for _, name := range sortedKeys(s.Fields) {
		problems = append(problems, s.Fields[name].check(name)...)
	}
	if len(problems) == 0 {
		if _, err := s.compile(); err != nil {
			problems = append(problems, FieldError{Reason: err.Error()})
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSchema, problems.Error())
	}
	return nil
}

func (f Field) check(path string) []FieldError {
	var out []FieldError
	bad := func(format string, args ...any) {
		out = append(out, FieldError{Path: path, Reason: fmt.Sprintf(format, args...)})
	}

	knownType := true
	switch f.Type {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeObject, TypeArray, TypeAny:
	case "":
		knownType = false
		bad("type is required")
	default:
		knownType = false
		bad("unknown type %q", f.Type)
	}

	numeric := f.Type == TypeNumber || f.Type == TypeInteger
	if (f.Min != nil || f.Max != nil) && !numeric {
		bad("min/max only apply to number and integer fields")
	}
	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		bad("min %v exceeds max %v", *f.Min, *f.Max)
	}
	if f.Items != nil && f.Type != TypeArray {
		bad("items only apply to array fields")
	}
	if len(f.Fields) > 0 && f.Type != TypeObject {
		bad("fields only apply to object fields")
	}
	if knownType && len(f.Enum) > 0 {
		typeOnly := Schema{Fields: map[string]Field{"v": {Type: f.Type}}}
		for i, v := range f.Enum {
			if errs := typeOnly.Validate(map[string]any{"v": v}); len(errs) > 0 {
				bad("enum[%d]: %s", i, errs[0].Reason)
			}
		}
	}

	if f.Items != nil {
		out = append(out, f.Items.check(path+"[]")...)
	}
	for _, name := range sortedKeys(f.Fields) {
		out = append(out, f.Fields[name].check(path+"."+name)...)
	}
	return out
}

// document renders the schema as a JSON Schema object.
func (s Schema) document() map[string]any {
	return objectDocument(s.Fields, s.AllowUnknown)
}

func objectDocument(fields map[string]Field, allowUnknown bool) map[string]any {
	doc := map[string]any{"type": "object"}
	props := make(map[string]any, len(fields))
	var required []string
	for _, name := range sortedKeys(fields) {
		f := fields[name]
		props[name] = f.document()
		if f.Required {
			required = append(required, name)
		}
	}
	doc["properties"] = props
	if len(required) > 0 {
		doc["required"] = required
	}
	if !allowUnknown {
		doc["additionalProperties"] = false
	}
	return doc
}

func (f Field) document() map[string]any {
	var doc map[string]any
	if f.Type == TypeObject && len(f.Fields) > 0 {
		doc = objectDocument(f.Fields, f.AllowUnknown)
	} else {
		doc = map[string]any{}
		if f.Type != TypeAny {
			doc["type"] = string(f.Type)
		}
	}
	if len(f.Enum) > 0 {
		doc["enum"] = f.Enum
	}
	if f.Min != nil {
		doc["minimum"] = *f.Min
	}
	if f.Max != nil {
		doc["maximum"] = *f.Max
	}
	if f.Items != nil {
		doc["items"] = f.Items.document()
	}
	if f.Description != "" {
		doc["description"] = f.Description
	}
	return doc
}

const schemaLocation = "contract.json"

// compile builds a validator for s.
func (s Schema) compile() (*jsonschema.Schema, error) {
	doc, err := toInstance(s.document())
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaLocation, doc); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return c.Compile(schemaLocation)
}

// Validate checks value against the schema and returns every violation
// with its dotted path, e.g. findings[2].severity. A nil result means the
// value conforms.
func (s Schema) Validate(value map[string]any) FieldErrors {
	sch, err := s.compile()
	if err != nil {
		return FieldErrors{{Reason: fmt.Sprintf("schema does not compile: %v", err)}}
	}
	return validate(sch, value)
}

// validate runs a compiled schema over value.
func validate(sch *jsonschema.Schema, value map[string]any) FieldErrors {
	if value == nil {
		value = map[string]any{}
	}
	inst, err := toInstance(value)
	if err != nil {
		return FieldErrors{{Reason: fmt.Sprintf("document is not valid JSON: %v", err)}}
	}
	inst = dropNulls(inst)

	err = sch.Validate(inst)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return FieldErrors{{Reason: err.Error()}}
	}

	var errs FieldErrors
	collect(inst, ve, &errs)
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Path < errs[j].Path })
	return errs
}

var printer = message.NewPrinter(language.English)

// collect flattens the leaves of a validation error tree.
func collect(inst any, ve *jsonschema.ValidationError, errs *FieldErrors) {
	if len(ve.Causes) > 0 {
		for _, c := range ve.Causes {
			collect(inst, c, errs)
		}
		return
	}

	path := fieldPath(inst, ve.InstanceLocation)
	switch k := ve.ErrorKind.(type) {
	case *kind.Required:
		for _, name := range k.Missing {
			*errs = append(*errs, FieldError{Path: join(path, name), Reason: "required field missing"})
		}
	case *kind.AdditionalProperties:
		for _, name := range k.Properties {
			*errs = append(*errs, FieldError{Path: join(path, name), Reason: "unknown field"})
		}
	case *kind.Type:
		*errs = append(*errs, FieldError{Path: path, Reason: fmt.Sprintf("expected %s, got %s", strings.Join(k.Want, " or "), k.Got)})
	default:
		*errs = append(*errs, FieldError{Path: path, Reason: ve.ErrorKind.LocalizedString(printer)})
	}
}

// fieldPath renders an instance location as a dotted path with array
// indices in brackets. inst disambiguates numeric object keys.
func fieldPath(inst any, loc []string) string {
	var b strings.Builder
	cur := inst
	for _, tok := range loc {
		if arr, ok := cur.([]any); ok {
			b.WriteString("[" + tok + "]")
			cur = nil
			if i, err := strconv.Atoi(tok); err == nil && i >= 0 && i < len(arr) {
				cur = arr[i]
			}
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(tok)
		obj, _ := cur.(map[string]any)
		cur = obj[tok]
	}
	return b.String()
}

// toInstance converts a Go value into the JSON shapes the validator
// expects, numbers as json.Number.
func toInstance(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(data))
}

// dropNulls removes null object members so they read as absent.
func dropNulls(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			if item == nil {
				delete(t, k)
				continue
			}
			t[k] = dropNulls(item)
		}
	case []any:
		for i, item := range t {
			t[i] = dropNulls(item)
		}
	}
	return v
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
