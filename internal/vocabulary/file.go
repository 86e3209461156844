// Package vocabulary fills the matcher from its sources: a seed file, a
// PostgreSQL table and a Kafka topic of additions.
package vocabulary

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileDocument is the YAML seed format.
type fileDocument struct {
	Values []string `yaml:"values"`
}

// LoadFile reads seed values from path. YAML files (.yaml, .yml) hold a
// `values:` list; any other file holds one value per line, with blank lines
// and lines starting with '#' skipped.
func LoadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vocabulary file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc fileDocument
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing vocabulary file %s: %w", path, err)
		}
		return doc.Values, nil
	default:
		return parseLines(data)
	}
}

func parseLines(data []byte) ([]string, error) {
	var values []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		values = append(values, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning vocabulary lines: %w", err)
	}
	return values, nil
}
