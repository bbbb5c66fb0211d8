package match

import (
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// jsonSchemaValidator adapts a compiled gojsonschema.Schema to the
// package's Validator seam (spec supplement §4.D "#schema NAME").
type jsonSchemaValidator struct {
	schema *gojsonschema.Schema
}

func (v *jsonSchemaValidator) Validate(doc interface{}) (bool, []string, error) {
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return false, nil, err
	}
	if result.Valid() {
		return true, nil, nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return false, problems, nil
}

// SchemaRegistry holds named JSON schemas registered through RegisterJSON
// (the Suite does so for each WithJSONSchema option) and resolved lazily
// by #schema NAME tokens. A `configure` step does not register schemas. Safe
// for concurrent use since scenarios validating against the same schema
// may run in parallel under the scheduler's worker pool.
type SchemaRegistry struct {
	mu    sync.RWMutex
	named map[string]*jsonSchemaValidator
}

func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{named: make(map[string]*jsonSchemaValidator)}
}

// RegisterJSON compiles a raw JSON schema document and registers it
// under name, replacing any prior registration.
func (r *SchemaRegistry) RegisterJSON(name string, rawJSON []byte) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(rawJSON))
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.named[name] = &jsonSchemaValidator{schema: schema}
	return nil
}

func (r *SchemaRegistry) Resolve(name string) (Validator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.named[name]
	return v, ok
}
