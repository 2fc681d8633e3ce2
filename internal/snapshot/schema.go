package snapshot

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/canvasync/internal/element"
)

//go:embed snapshot.cue
var schemaCUE string

// SchemaError describes the first violation found in a document.
type SchemaError struct {
	Path    string
	Message string
	Pos     token.Pos
}

func (e *SchemaError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// Schema validates snapshot documents against the embedded CUE definition.
//
// Thread-safety: safe for concurrent use. CUE values are not, so
// validation is serialized.
type Schema struct {
	mu  sync.Mutex
	ctx *cue.Context
	def cue.Value
}

// NewSchema compiles the document schema.
func NewSchema() (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(schemaCUE, cue.Filename("snapshot.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile snapshot schema: %w", err)
	}
	def := v.LookupPath(cue.ParsePath("#Document"))
	if !def.Exists() {
		return nil, fmt.Errorf("compile snapshot schema: #Document not found")
	}
	return &Schema{ctx: ctx, def: def}, nil
}

// ValidateJSON checks raw document JSON.
func (s *Schema) ValidateJSON(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.ctx.CompileBytes(data, cue.Filename("document.json"))
	if err := v.Err(); err != nil {
		return schemaError(err)
	}
	if err := s.def.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return schemaError(err)
	}
	return nil
}

// Validate checks an in-memory document by its wire encoding.
func (s *Schema) Validate(doc element.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("validate document: %w", err)
	}
	return s.ValidateJSON(data)
}

var (
	defaultSchema     *Schema
	defaultSchemaErr  error
	defaultSchemaOnce sync.Once
)

// ValidateDocument checks raw document JSON against the shared schema.
func ValidateDocument(data []byte) error {
	defaultSchemaOnce.Do(func() {
		defaultSchema, defaultSchemaErr = NewSchema()
	})
	if defaultSchemaErr != nil {
		return defaultSchemaErr
	}
	return defaultSchema.ValidateJSON(data)
}

func schemaError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &SchemaError{Message: err.Error()}
	}
	first := errs[0]
	se := &SchemaError{
		Path:    strings.Join(first.Path(), "."),
		Message: first.Error(),
	}
	if pos := errors.Positions(first); len(pos) > 0 {
		se.Pos = pos[0]
	}
	return se
}
