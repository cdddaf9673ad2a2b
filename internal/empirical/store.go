package empirical

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lox/egta/internal/fault"
	"github.com/lox/egta/internal/fileutil"
)

//go:embed schemas
var schemaFiles embed.FS

const schemaURL = "https://egta.local/schemas/game.json"

var (
	schemaOnce sync.Once
	gameSchema *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		data, err := schemaFiles.ReadFile("schemas/game.json")
		if err != nil {
			schemaErr = fmt.Errorf("failed to read game schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource(schemaURL, bytes.NewReader(data)); err != nil {
			schemaErr = fmt.Errorf("failed to add game schema: %w", err)
			return
		}
		gameSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return gameSchema, schemaErr
}

// ValidateSchema checks raw game-file bytes against the embedded schema.
func ValidateSchema(data []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fault.Wrap(fault.ErrInvariant, "game", "json", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fault.Wrap(fault.ErrInvariant, "game", "schema", err)
	}
	return nil
}

// Decode parses and validates a game file.
func Decode(data []byte) (*Game, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}
	var g Game
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fault.Wrap(fault.ErrInvariant, "game", "json", err)
	}
	if g.Profiles == nil {
		g.Profiles = []Profile{}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// Encode returns the canonical serialization of g.
func (g *Game) Encode() ([]byte, error) {
	return fileutil.MarshalCanonical(g)
}

// Load reads a game file.
func Load(path string) (*Game, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read game file: %w", err)
	}
	g, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return g, nil
}

// Save validates g and writes it atomically.
func (g *Game) Save(path string) error {
	if err := g.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	return fileutil.WriteJSONAtomic(path, g)
}
