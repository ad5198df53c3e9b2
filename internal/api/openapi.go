package api

import (
	"encoding/json"

	"github.com/mattjoyce/crewgate/internal/tools"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document with one POST operation per
// visible tool plus the job endpoints.
func buildOpenAPIDoc(list []tools.Tool) map[string]any {
	paths := map[string]any{}

	for _, t := range list {
		paths["/tools/"+t.Name] = map[string]any{
			"post": toolOperation(t),
		}
	}

	jobParam := []any{map[string]any{
		"name": "jobID", "in": "path", "required": true,
		"schema": map[string]any{"type": "string"},
	}}
	paths["/jobs"] = map[string]any{
		"get": operation("listJobs", "List jobs", nil, "200"),
	}
	paths["/jobs/{jobID}"] = map[string]any{
		"get": operation("getJob", "Get a job with a stdout preview", jobParam, "200", "404"),
	}
	paths["/jobs/{jobID}/wait"] = map[string]any{
		"post": operation("waitJob", "Wait for a job to finish", jobParam, "200", "404"),
	}
	paths["/jobs/{jobID}/kill"] = map[string]any{
		"post": operation("killJob", "Kill a running job", jobParam, "200", "404"),
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "crewgate",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

func toolOperation(t tools.Tool) map[string]any {
	op := operation(t.Name, t.Description, nil, "200", "400", "403")
	var schema any
	if err := json.Unmarshal(t.InputSchema, &schema); err == nil {
		op["requestBody"] = map[string]any{
			"required": true,
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": schema,
				},
			},
		}
	}
	return op
}

var statusText = map[string]string{
	"200": "OK",
	"400": "Bad request",
	"403": "Insufficient scope",
	"404": "Not found",
}

func operation(id, summary string, params []any, codes ...string) map[string]any {
	responses := map[string]any{}
	for _, c := range codes {
		responses[c] = map[string]any{"description": statusText[c]}
	}
	op := map[string]any{
		"operationId": id,
		"summary":     summary,
		"responses":   responses,
		"security":    []any{map[string]any{"BearerAuth": []string{}}},
	}
	if params != nil {
		op["parameters"] = params
	}
	return op
}
