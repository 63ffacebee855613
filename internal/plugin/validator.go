package plugin

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const manifestSchemaURL = "https://bella.bot/schemas/manifest.json"

// ManifestError lists every schema violation found in one manifest.
type ManifestError struct {
	Path   string
	Issues []string
}

func (e *ManifestError) Error() string {
	where := e.Path
	if where == "" {
		where = "<inline>"
	}
	return fmt.Sprintf("invalid manifest %s: %s", where, strings.Join(e.Issues, "; "))
}

func (e *ManifestError) Unwrap() error { return ErrInvalidManifest }

// Validator checks manifests against the compiled schema. It is safe for
// concurrent use.
type Validator struct {
	schema  *jsonschema.Schema
	printer *message.Printer
}

// NewValidator compiles the manifest schema.
func NewValidator() (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(manifestSchema))
	if err != nil {
		return nil, fmt.Errorf("parse manifest schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(manifestSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add manifest schema: %w", err)
	}
	sch, err := c.Compile(manifestSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile manifest schema: %w", err)
	}

	return &Validator{
		schema:  sch,
		printer: message.NewPrinter(language.English),
	}, nil
}

var defaultValidator = sync.OnceValues(NewValidator)

// DefaultValidator returns the process-wide validator.
func DefaultValidator() *Validator {
	v, err := defaultValidator()
	if err != nil {
		// The schema is a constant; failing to compile it is a programming error.
		panic(err)
	}
	return v
}

// Validate checks raw manifest JSON and decodes it. A rejected manifest
// yields a *ManifestError.
func (v *Validator) Validate(raw []byte) (*Manifest, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, &ManifestError{Issues: []string{"malformed JSON: " + err.Error()}}
	}

	if err := v.schema.Validate(inst); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return nil, &ManifestError{Issues: []string{err.Error()}}
		}
		var issues []string
		v.collect(ve, &issues)
		return nil, &ManifestError{Issues: issues}
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &ManifestError{Issues: []string{err.Error()}}
	}
	return &m, nil
}

// collect flattens the leaf causes of a validation error into readable
// "location: message" strings.
func (v *Validator) collect(ve *jsonschema.ValidationError, out *[]string) {
	if len(ve.Causes) == 0 {
		loc := "/" + strings.Join(ve.InstanceLocation, "/")
		*out = append(*out, fmt.Sprintf("%s: %s", loc, ve.ErrorKind.LocalizedString(v.printer)))
		return
	}
	for _, c := range ve.Causes {
		v.collect(c, out)
	}
}
