package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/eagraf/habitat-deployd/core/state/deploy"
	"github.com/qri-io/jsonschema"
	"gopkg.in/yaml.v3"
)

var manifestSchema = []byte(`{
	"type": "object",
	"required": ["probes"],
	"properties": {
		"probes": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["path", "expect"],
				"properties": {
					"method": {
						"type": "string",
						"enum": ["GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"]
					},
					"path": {
						"type": "string",
						"pattern": "^/"
					},
					"expect": {
						"type": "array",
						"minItems": 1,
						"items": {
							"type": "integer",
							"minimum": 100,
							"maximum": 599
						}
					},
					"body": {
						"type": "string"
					}
				}
			}
		}
	}
}`)

type manifest struct {
	Probes []deploy.Probe `json:"probes"`
}

// LoadProbes reads a YAML probe manifest:
//
//	probes:
//	  - method: GET
//	    path: /health
//	    expect: [200]
func LoadProbes(path string) ([]deploy.Probe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	probes, err := ParseProbes(data)
	if err != nil {
		return nil, fmt.Errorf("probe manifest %s: %w", path, err)
	}
	return probes, nil
}

func ParseProbes(data []byte) ([]deploy.Probe, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	jsonBytes, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	rs := &jsonschema.Schema{}
	if err := json.Unmarshal(manifestSchema, rs); err != nil {
		return nil, err
	}
	keyErrs, err := rs.ValidateBytes(context.Background(), jsonBytes)
	if err != nil {
		return nil, err
	}
	if len(keyErrs) > 0 {
		msgs := make([]string, 0, len(keyErrs))
		for _, e := range keyErrs {
			msgs = append(msgs, e.Error())
		}
		return nil, fmt.Errorf("invalid manifest: %s", strings.Join(msgs, "; "))
	}

	var m manifest
	if err := json.Unmarshal(jsonBytes, &m); err != nil {
		return nil, err
	}
	for i := range m.Probes {
		if m.Probes[i].Method == "" {
			m.Probes[i].Method = "GET"
		}
	}
	return m.Probes, nil
}
