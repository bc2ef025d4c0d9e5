package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	streamschema "github.com/Paintersrp/streamsup/schema"
)

const configSchemaURL = "config.v1.json"

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(configSchemaURL, bytes.NewReader(streamschema.ConfigV1Schema)); err != nil {
		return nil, fmt.Errorf("add config schema resource: %w", err)
	}
	schema, err := compiler.Compile(configSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	return schema, nil
})

// validateAgainstSchema checks the raw YAML tree before it is decoded into
// Config, so unknown keys and malformed durations are reported with their
// location in the file.
func validateAgainstSchema(doc map[string]any) error {
	if doc == nil {
		return nil
	}
	schema, err := compiledSchema()
	if err != nil {
		return err
	}

	// Round-trip through JSON so the validator only sees string keys and
	// json.Number values.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("prepare config for schema validation: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("prepare config for schema validation: %w", err)
	}

	err = schema.Validate(instance)
	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		return fmt.Errorf("schema validation failed:\n%s", describeViolations(verr))
	}
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// describeViolations lists the leaf failures, one per line, ordered by the
// offending field.
func describeViolations(verr *jsonschema.ValidationError) string {
	type violation struct{ field, msg string }
	var found []violation
	seen := make(map[violation]bool)
	for _, e := range verr.BasicOutput().Errors {
		if e.Error == "" || strings.HasPrefix(e.Error, "doesn't validate with") {
			continue
		}
		v := violation{field: fieldFromPointer(e.InstanceLocation), msg: e.Error}
		if seen[v] {
			continue
		}
		seen[v] = true
		found = append(found, v)
	}
	if len(found) == 0 {
		return "  - config: " + verr.Message
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].field < found[j].field })

	lines := make([]string, len(found))
	for i, v := range found {
		lines[i] = fmt.Sprintf("  - %s: %s", v.field, v.msg)
	}
	return strings.Join(lines, "\n")
}

// fieldFromPointer renders a JSON pointer such as /stream/globalArgs/0 as
// stream.globalArgs[0].
func fieldFromPointer(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return "config"
	}
	var b strings.Builder
	for _, seg := range strings.Split(ptr, "/") {
		seg = strings.NewReplacer("~1", "/", "~0", "~").Replace(seg)
		if _, err := strconv.Atoi(seg); err == nil {
			b.WriteString("[" + seg + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}
