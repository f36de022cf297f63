package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
)

// Error carries the first schema violation in a client-presentable form.
type Error struct {
	Schema  Name
	Field   string
	Message string
}

func (e *Error) Error() string { return e.Message }

// IsValidationError reports whether err carries a *Error.
func IsValidationError(err error) bool {
	var verr *Error
	return errors.As(err, &verr)
}

type Validator interface {
	Validate(schema Name, candidate any) error
}

type compiledSchema struct {
	schema *jschema.Schema
	fields []string
}

// SchemaValidator compiles every request schema once from the payload
// structs and validates candidates against them.
type SchemaValidator struct {
	schemas map[Name]compiledSchema
}

var (
	defaultOnce      sync.Once
	defaultValidator *SchemaValidator
	defaultErr       error
)

// Default returns the process-wide validator, compiling it on first use.
func Default() (*SchemaValidator, error) {
	defaultOnce.Do(func() {
		defaultValidator, defaultErr = NewSchemaValidator()
	})
	return defaultValidator, defaultErr
}

func NewSchemaValidator() (*SchemaValidator, error) {
	v := &SchemaValidator{schemas: make(map[Name]compiledSchema, len(payloads))}
	for name, payload := range payloads {
		cs, err := compile(name, payload)
		if err != nil {
			return nil, err
		}
		v.schemas[name] = cs
	}
	return v, nil
}

// Document returns the reflected JSON Schema for a request, as served to clients.
func Document(name Name) ([]byte, error) {
	payload, ok := payloads[name]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q", name)
	}
	return json.MarshalIndent(reflectSchema(name, payload), "", "  ")
}

func reflectSchema(name Name, payload any) *jsonschema.Schema {
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	s := r.Reflect(payload)
	s.Title = string(name)
	return s
}

func compile(name Name, payload any) (compiledSchema, error) {
	reflected := reflectSchema(name, payload)
	raw, err := json.Marshal(reflected)
	if err != nil {
		return compiledSchema{}, fmt.Errorf("marshal %s schema: %w", name, err)
	}
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return compiledSchema{}, fmt.Errorf("parse %s schema: %w", name, err)
	}

	url := string(name) + ".json"
	c := jschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return compiledSchema{}, fmt.Errorf("add %s schema resource: %w", name, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return compiledSchema{}, fmt.Errorf("compile %s schema: %w", name, err)
	}

	var fields []string
	if reflected.Properties != nil {
		for pair := reflected.Properties.Oldest(); pair != nil; pair = pair.Next() {
			fields = append(fields, pair.Key)
		}
	}
	return compiledSchema{schema: sch, fields: fields}, nil
}

// Validate checks candidate, a payload struct or a decoded JSON document,
// and returns a *Error describing the first violation.
func (v *SchemaValidator) Validate(name Name, candidate any) error {
	cs, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	raw, err := json.Marshal(candidate)
	if err != nil {
		return fmt.Errorf("encode %s candidate: %w", name, err)
	}
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode %s candidate: %w", name, err)
	}

	err = cs.schema.Validate(doc)
	if err == nil {
		return nil
	}
	var verr *jschema.ValidationError
	if !errors.As(err, &verr) {
		return fmt.Errorf("validate %s: %w", name, err)
	}
	return firstViolation(name, cs.fields, verr)
}

type violation struct {
	field    string
	order    int
	priority int
	message  string
}

func firstViolation(name Name, fields []string, root *jschema.ValidationError) *Error {
	index := make(map[string]int, len(fields))
	for i, f := range fields {
		index[f] = i
	}
	orderOf := func(field string) int {
		if i, ok := index[field]; ok {
			return i
		}
		return len(fields)
	}

	var found []violation
	var walk func(*jschema.ValidationError)
	walk = func(e *jschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, c := range e.Causes {
				walk(c)
			}
			return
		}
		field := ""
		if len(e.InstanceLocation) > 0 {
			field = e.InstanceLocation[0]
		}
		switch k := e.ErrorKind.(type) {
		case *kind.Required:
			for _, missing := range k.Missing {
				found = append(found, violation{missing, orderOf(missing), 0, fmt.Sprintf("%q is required", missing)})
			}
		case *kind.AdditionalProperties:
			for _, extra := range k.Properties {
				found = append(found, violation{extra, len(fields), 0, fmt.Sprintf("%q is not allowed", extra)})
			}
		case *kind.Type:
			found = append(found, violation{field, orderOf(field), 0, fmt.Sprintf("%q must be a %s", field, strings.Join(k.Want, " or "))})
		case *kind.MinLength:
			if k.Got == 0 {
				found = append(found, violation{field, orderOf(field), 1, fmt.Sprintf("%q is not allowed to be empty", field)})
				return
			}
			found = append(found, violation{field, orderOf(field), 2, fmt.Sprintf("%q length must be at least %d characters long", field, k.Want)})
		case *kind.MaxLength:
			found = append(found, violation{field, orderOf(field), 3, fmt.Sprintf("%q length must be less than or equal to %d characters long", field, k.Want)})
		case *kind.Pattern:
			msg := "fails to match the required pattern"
			if custom, ok := patternMessages[field]; ok {
				msg = custom
			}
			found = append(found, violation{field, orderOf(field), 4, fmt.Sprintf("%q %s", field, msg)})
		default:
			found = append(found, violation{field, orderOf(field), 5, fmt.Sprintf("%q is invalid", field)})
		}
	}
	walk(root)

	if len(found) == 0 {
		return &Error{Schema: name, Message: "request payload is invalid"}
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].order != found[j].order {
			return found[i].order < found[j].order
		}
		return found[i].priority < found[j].priority
	})
	first := found[0]
	return &Error{Schema: name, Field: first.field, Message: first.message}
}
