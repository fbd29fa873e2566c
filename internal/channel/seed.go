/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package channel

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadSeed reads an initial aggregate from a YAML or JSON file. An empty
// path returns a nil snapshot.
func LoadSeed(path string) (Snapshot, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes YAML (and therefore JSON) into a snapshot, normalized
// to the shapes the JSON decoder produces.
func ParseSeed(data []byte) (Snapshot, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	return clone(Snapshot(raw))
}
