package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/lmnhd/keyvex-sub008/internal/tcc"
)

const (
	ComponentFile  = "component.tsx"
	DefinitionFile = "definition.json"
)

// BundleKey is the storage key of one file of a tool version.
func BundleKey(toolID, version, name string) string {
	return path.Join("tools", toolID, version, name)
}

// Bundle lists the stored files of a tool version.
type Bundle struct {
	ToolID  string   `json:"toolId"`
	Version string   `json:"version"`
	Keys    []string `json:"keys"`
}

// UploadBundle stores the component source and the definition of def.
func UploadBundle(ctx context.Context, st Storage, def *tcc.ProductToolDefinition) (*Bundle, error) {
	if def == nil || def.ID == "" {
		return nil, errors.New("bundle needs a tool id")
	}
	version := def.Version
	if version == "" {
		version = "1.0.0"
	}

	definition, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal definition: %w", err)
	}

	files := []struct {
		name        string
		body        []byte
		contentType string
	}{
		{ComponentFile, []byte(def.ComponentCode), "text/plain; charset=utf-8"},
		{DefinitionFile, definition, "application/json"},
	}

	b := &Bundle{ToolID: def.ID, Version: version}
	for _, f := range files {
		key := BundleKey(def.ID, version, f.name)
		if err := st.Upload(ctx, key, bytes.NewReader(f.body), int64(len(f.body)), f.contentType); err != nil {
			return nil, fmt.Errorf("upload %s: %w", f.name, err)
		}
		b.Keys = append(b.Keys, key)
	}
	return b, nil
}

// DeleteBundle removes both files of a tool version.
func DeleteBundle(ctx context.Context, st Storage, toolID, version string) error {
	var errs []error
	for _, name := range []string{ComponentFile, DefinitionFile} {
		if err := st.Delete(ctx, BundleKey(toolID, version, name)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
