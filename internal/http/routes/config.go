// Package routes provides shared route registration for the PawTalk API.
// Both the server and the OpenAPI generator use these definitions, so the
// published spec always matches what is served.
package routes

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/pawtalk-api/internal/version"
)

// SecurityScheme is the name of the optional bearer scheme in the OpenAPI spec.
const SecurityScheme = "bearerAuth"

// NewHumaConfig creates the shared Huma configuration for the API.
func NewHumaConfig(baseURL string) huma.Config {
	cfg := huma.DefaultConfig("PawTalk API", version.Get().Version)
	cfg.Info.Description = "Turns a photo of a dog and a line of text into a short talking-dog video."

	// Disable $schema field in responses
	cfg.CreateHooks = nil

	if baseURL != "" {
		cfg.Servers = []*huma.Server{
			{URL: baseURL, Description: "API Server"},
		}
	}

	cfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		SecurityScheme: {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
			Description:  "Optional. Signed-in callers send their session token; anonymous callers are identified by address.",
		},
	}

	cfg.Tags = []*huma.Tag{
		{Name: "Generations", Description: "Create talking-dog videos and follow their progress", Extensions: map[string]any{"x-displayName": "Generations"}},
		{Name: "Credits", Description: "Credit balances and purchase history", Extensions: map[string]any{"x-displayName": "Credits"}},
		{Name: "Admin", Description: "Operator credit management", Extensions: map[string]any{"x-displayName": "Admin"}},
		{Name: "Health", Description: "System health and status", Extensions: map[string]any{"x-displayName": "Health"}},
	}

	return cfg
}

// noDocs strips the docs endpoints from cfg so several APIs can share one
// router. The copy keeps cfg.OpenAPI, so their operations still land in the
// one published document.
func noDocs(cfg huma.Config) huma.Config {
	cfg.DocsPath = ""
	cfg.OpenAPIPath = ""
	cfg.SchemasPath = ""
	return cfg
}
