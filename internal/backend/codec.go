package backend

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/agentic-research/simpledb/internal/value"
	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"
	"gopkg.in/yaml.v3"
)

// Format is the on-disk encoding of a flat file.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

func (f Format) String() string {
	if f == FormatYAML {
		return "yaml"
	}
	return "json"
}

// FormatFor picks the encoding from the file extension; anything that is
// not .yaml or .yml is JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

var (
	// documentOptions writes tab-indented JSON with sorted keys so repeated
	// writes of equal data produce identical bytes.
	documentOptions = func() *ojg.Options {
		o := ojg.DefaultOptions
		o.Tab = true
		o.Sort = true
		return &o
	}()
	compactOptions = func() *ojg.Options {
		o := ojg.DefaultOptions
		o.Sort = true
		return &o
	}()
)

// EncodeValue renders v as compact JSON with sorted keys.
func EncodeValue(v any) (string, error) {
	b, err := oj.Marshal(v, compactOptions)
	if err != nil {
		return "", fmt.Errorf("encode value: %w", err)
	}
	return string(b), nil
}

// DecodeValue parses JSON text produced by EncodeValue.
func DecodeValue(s string) (any, error) {
	v, err := oj.ParseString(s)
	if err != nil {
		return nil, err
	}
	return value.Normalize(v)
}

func encodeDocument(f Format, doc map[string]any) ([]byte, error) {
	if f == FormatYAML {
		return yaml.Marshal(doc)
	}
	return oj.Marshal(doc, documentOptions)
}

func decodeDocument(f Format, data []byte) (map[string]any, error) {
	var raw any
	if f == FormatYAML {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		if raw == nil {
			return map[string]any{}, nil
		}
	} else {
		v, err := oj.Parse(data)
		if err != nil {
			return nil, err
		}
		raw = v
	}

	v, err := value.Normalize(raw)
	if err != nil {
		return nil, err
	}
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("document root is %T, not an object", v)
	}
	return doc, nil
}
