package document

import (
	"context"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/goccy/go-yaml"
	"github.com/tidwall/gjson"
)

// Summary describes a document at a glance.
type Summary struct {
	Kind       Kind   `json:"kind"`
	Title      string `json:"title,omitempty"`
	Version    string `json:"version,omitempty"`
	OASVersion string `json:"oasVersion,omitempty"`
	Operations int    `json:"operations"`
}

// Describe builds a best-effort summary of the document. Structural
// problems never fail the call: fields that cannot be extracted stay
// zero, so callers can log the summary without a parse gate.
func Describe(text []byte) Summary {
	sum := Summary{Kind: Sniff(text)}
	switch sum.Kind {
	case KindOpenAPI3:
		describeV3(text, &sum)
	case KindSwagger2:
		sum.Title, sum.Version, sum.OASVersion = probeInfo(text)
	}
	return sum
}

func describeV3(text []byte, sum *Summary) {
	loader := &openapi3.Loader{Context: context.Background()}
	doc, err := loader.LoadFromData(text)
	if err != nil || doc == nil {
		sum.Title, sum.Version, sum.OASVersion = probeInfo(text)
		return
	}
	sum.OASVersion = doc.OpenAPI
	if doc.Info != nil {
		sum.Title = doc.Info.Title
		sum.Version = doc.Info.Version
	}
	if doc.Paths != nil {
		for _, item := range doc.Paths.Map() {
			if item == nil {
				continue
			}
			sum.Operations += len(item.Operations())
		}
	}
}

// probeInfo extracts title and version fields without a full model
// parse. Swagger 2.x documents and structurally broken 3.x documents
// go through here.
func probeInfo(text []byte) (title, version, oas string) {
	if looksLikeJSON(text) {
		title = gjson.GetBytes(text, "info.title").String()
		version = gjson.GetBytes(text, "info.version").String()
		oas = scalarString(gjson.GetBytes(text, "swagger").Value())
		if oas == "" {
			oas = scalarString(gjson.GetBytes(text, "openapi").Value())
		}
		return title, version, oas
	}

	var probe struct {
		OpenAPI any `yaml:"openapi"`
		Swagger any `yaml:"swagger"`
		Info    struct {
			Title   string `yaml:"title"`
			Version string `yaml:"version"`
		} `yaml:"info"`
	}
	if err := yaml.Unmarshal(text, &probe); err != nil {
		return "", "", ""
	}
	oas = scalarString(probe.Swagger)
	if oas == "" {
		oas = scalarString(probe.OpenAPI)
	}
	return probe.Info.Title, probe.Info.Version, oas
}
