package ledger

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBase = "https://diamondctl.local/schemas/"

var (
	schemaOnce sync.Once
	schemas    map[string]*jsonschema.Schema
	schemaErr  error
)

func compileSchemas() {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	names := []string{"addresses", "details", "diamond"}
	for _, n := range names {
		raw, err := schemaFS.ReadFile("schemas/" + n + ".schema.json")
		if err != nil {
			schemaErr = err
			return
		}
		if err := c.AddResource(schemaBase+n+".schema.json", bytes.NewReader(raw)); err != nil {
			schemaErr = fmt.Errorf("ledger: add schema %s: %w", n, err)
			return
		}
	}
	schemas = make(map[string]*jsonschema.Schema, len(names))
	for _, n := range names {
		s, err := c.Compile(schemaBase + n + ".schema.json")
		if err != nil {
			schemaErr = fmt.Errorf("ledger: compile schema %s: %w", n, err)
			return
		}
		schemas[n] = s
	}
}

func schemaFor(name string) (*jsonschema.Schema, error) {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return nil, schemaErr
	}
	return schemas[name], nil
}

// readRaw returns the content of path after validating it against the named
// schema. A missing or empty file reports found=false.
func readRaw(path, schema string) (raw []byte, found bool, err error) {
	raw, err = os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, false, nil
	}
	if err := validateDoc(raw, schema); err != nil {
		if errors.Is(err, errSchemaLoad) {
			return nil, true, err
		}
		return nil, true, corrupt(path, err)
	}
	return raw, true, nil
}

// readJSON decodes path into v after validating it against the named schema.
// A missing or empty file leaves v untouched and reports found=false.
func readJSON(path, schema string, v any) (found bool, err error) {
	raw, found, err := readRaw(path, schema)
	if !found || err != nil {
		return found, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, corrupt(path, err)
	}
	return true, nil
}

var errSchemaLoad = errors.New("ledger: schemas unavailable")

func validateDoc(raw []byte, schema string) error {
	s, err := schemaFor(schema)
	if err != nil {
		return fmt.Errorf("%w: %v", errSchemaLoad, err)
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return err
	}
	return s.Validate(doc)
}

// writeJSON replaces path atomically. Readers see the old or the new content,
// never a partial write. A document the named schema rejects is never
// written, so the next read cannot fail on it.
func writeJSON(path, schema string, v any, indent string) error {
	raw, err := json.MarshalIndent(v, "", indent)
	if err != nil {
		return err
	}
	if err := validateDoc(raw, schema); err != nil {
		if errors.Is(err, errSchemaLoad) {
			return err
		}
		return fmt.Errorf("%s: %w: %v", filepath.Base(path), ErrInvalidRecord, err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
