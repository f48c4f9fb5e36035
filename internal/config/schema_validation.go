package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	devrunschema "github.com/Paintersrp/devrun/schema"
)

type schemaDoc struct {
	name string
	data []byte

	once   sync.Once
	schema *jsonschema.Schema
	err    error
}

var (
	settingsSchema = &schemaDoc{name: "settings.v1.json", data: devrunschema.SettingsV1Schema}
	projectsSchema = &schemaDoc{name: "projects.v1.json", data: devrunschema.ProjectsV1Schema}
)

func (d *schemaDoc) compile() (*jsonschema.Schema, error) {
	d.once.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource(d.name, bytes.NewReader(d.data)); err != nil {
			d.err = fmt.Errorf("add schema resource %s: %w", d.name, err)
			return
		}
		d.schema, d.err = compiler.Compile(d.name)
		if d.err != nil {
			d.err = fmt.Errorf("compile schema %s: %w", d.name, d.err)
		}
	})
	return d.schema, d.err
}

func validateAgainstSchema(doc *schemaDoc, raw map[string]any) error {
	schema, err := doc.compile()
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}

	normalized, err := normalizeForSchema(raw)
	if err != nil {
		return fmt.Errorf("prepare document for schema validation: %w", err)
	}

	if err := schema.Validate(normalized); err != nil {
		var vErr *jsonschema.ValidationError
		if errors.As(err, &vErr) {
			return fmt.Errorf("schema validation failed:\n%s", formatValidationError(vErr))
		}
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// LintProjects validates a project registry file against its schema. A
// missing file is valid.
func LintProjects(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open projects file: %w", err)
	}
	var raw map[string]any
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: decode: %w", path, err)
	}
	if raw == nil {
		return nil
	}
	if err := validateAgainstSchema(projectsSchema, raw); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func normalizeForSchema(doc map[string]any) (any, error) {
	buf := &bytes.Buffer{}
	encoder := json.NewEncoder(buf)
	if err := encoder.Encode(doc); err != nil {
		return nil, err
	}
	decoder := json.NewDecoder(bytes.NewReader(buf.Bytes()))
	decoder.UseNumber()
	var out any
	if err := decoder.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func formatValidationError(err *jsonschema.ValidationError) string {
	var b strings.Builder
	writeValidationError(&b, err, 0)
	return strings.TrimRight(b.String(), "\n")
}

func writeValidationError(b *strings.Builder, err *jsonschema.ValidationError, depth int) {
	show := true
	if len(err.Causes) > 0 && strings.HasPrefix(err.Message, "doesn't validate with") {
		show = false
	}
	if show {
		indent := strings.Repeat("  ", depth)
		location := formatInstanceLocation(err.InstanceLocation)
		fmt.Fprintf(b, "%s- %s: %s\n", indent, location, err.Message)
		depth++
	}
	for _, cause := range err.Causes {
		writeValidationError(b, cause, depth)
	}
}

func formatInstanceLocation(ptr string) string {
	if ptr == "" || ptr == "/" {
		return "document"
	}
	segments := strings.Split(ptr, "/")
	if len(segments) > 0 {
		segments = segments[1:]
	}
	if len(segments) == 0 {
		return "document"
	}
	var b strings.Builder
	for _, segment := range segments {
		decoded := strings.ReplaceAll(strings.ReplaceAll(segment, "~1", "/"), "~0", "~")
		if _, err := strconv.Atoi(decoded); err == nil {
			fmt.Fprintf(&b, "[%s]", decoded)
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(decoded)
	}
	if b.Len() == 0 {
		return "document"
	}
	return b.String()
}
