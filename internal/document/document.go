// Package document classifies raw editor text as OpenAPI (or not) and
// prepares it for upload. Classification is a structural signature check,
// not validation: unparseable input is simply not an OpenAPI document.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/tidwall/gjson"
)

// Kind classifies a document's structural signature.
type Kind string

const (
	KindNone     Kind = ""
	KindOpenAPI3 Kind = "openapi3"
	KindSwagger2 Kind = "swagger2"
)

// IsOpenAPI reports whether the kind is an evaluatable OpenAPI flavor.
func (k Kind) IsOpenAPI() bool {
	return k == KindOpenAPI3 || k == KindSwagger2
}

// Sniff returns the document kind: KindOpenAPI3 for a root openapi field
// with a 3.x version, KindSwagger2 for swagger 2.x, KindNone otherwise.
// JSON documents are probed with gjson, everything else through a YAML
// decode into a minimal shape.
func Sniff(text []byte) Kind {
	if looksLikeJSON(text) {
		if !gjson.ValidBytes(text) {
			return KindNone
		}
		if versionPrefix(gjson.GetBytes(text, "openapi"), "3") {
			return KindOpenAPI3
		}
		if versionPrefix(gjson.GetBytes(text, "swagger"), "2") {
			return KindSwagger2
		}
		return KindNone
	}

	var sig struct {
		OpenAPI any `yaml:"openapi"`
		Swagger any `yaml:"swagger"`
	}
	if err := yaml.Unmarshal(text, &sig); err != nil {
		return KindNone
	}
	if scalarVersionPrefix(sig.OpenAPI, "3") {
		return KindOpenAPI3
	}
	if scalarVersionPrefix(sig.Swagger, "2") {
		return KindSwagger2
	}
	return KindNone
}

func looksLikeJSON(text []byte) bool {
	trimmed := bytes.TrimLeft(text, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func versionPrefix(r gjson.Result, major string) bool {
	return scalarVersionPrefix(r.Value(), major)
}

func scalarVersionPrefix(v any, major string) bool {
	return strings.HasPrefix(scalarString(v), major+".")
}

// scalarString renders a decoded version scalar as a dotted version
// string. Unquoted YAML and JSON version fields arrive as numbers, so
// 2.0 and 2 both normalize to "2.0".
func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', 1, 64)
	case int64:
		return strconv.FormatInt(t, 10) + ".0"
	case uint64:
		return strconv.FormatUint(t, 10) + ".0"
	default:
		return ""
	}
}

// ToServiceJSON converts document text to the canonical JSON bytes the
// evaluation service accepts. JSON input is compacted, YAML input is
// converted. The text must already have an OpenAPI signature; arbitrary
// text fails with an error.
func ToServiceJSON(text []byte) ([]byte, error) {
	if looksLikeJSON(text) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, text); err != nil {
			return nil, fmt.Errorf("invalid JSON document: %w", err)
		}
		return buf.Bytes(), nil
	}

	out, err := yaml.YAMLToJSON(text)
	if err != nil {
		return nil, fmt.Errorf("converting YAML document: %w", err)
	}
	return out, nil
}
