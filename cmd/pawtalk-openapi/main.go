// Package main provides a CLI tool to generate the OpenAPI specification for the PawTalk API.
// It registers the shared route definitions on a throwaway router, so no
// database, provider or storage is needed.
//
// Usage:
//
//	go run ./cmd/pawtalk-openapi > openapi.json
//	go run ./cmd/pawtalk-openapi -yaml > openapi.yaml
//	go run ./cmd/pawtalk-openapi -output openapi.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/pawtalk-api/internal/http/handlers"
	"github.com/jmylchreest/pawtalk-api/internal/http/routes"
	"github.com/jmylchreest/pawtalk-api/internal/version"
)

func main() {
	outputFile := flag.String("output", "", "Output file path (default: stdout)")
	outputYAML := flag.Bool("yaml", false, "Output as YAML instead of JSON")
	baseURL := flag.String("base-url", "https://api.pawtalk.app", "Base URL for the API server")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get().Version)
		return
	}

	// Handlers are never invoked; zero values are enough to register routes.
	api := routes.Mount(chi.NewRouter(), &routes.Handlers{
		Generation: &handlers.GenerationHandler{},
		Credit:     &handlers.CreditHandler{},
	}, routes.Options{BaseURL: *baseURL})

	spec := api.OpenAPI()

	var data []byte
	var err error
	if *outputYAML {
		data, err = yaml.Marshal(spec)
	} else {
		data, err = json.MarshalIndent(spec, "", "  ")
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error marshaling OpenAPI spec: %v\n", err)
		os.Exit(1)
	}

	if *outputFile != "" {
		if err := os.WriteFile(*outputFile, data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "error writing to file: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "OpenAPI spec written to %s\n", *outputFile)
	} else {
		fmt.Print(string(data))
	}
}
