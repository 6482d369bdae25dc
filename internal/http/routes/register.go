package routes

import (
	"context"
	"net/http"
	"reflect"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/pawtalk-api/internal/http/handlers"
	"github.com/jmylchreest/pawtalk-api/internal/http/mw"
)

// GenerationHandlers serves the generation endpoints.
type GenerationHandlers interface {
	CreateGeneration(w http.ResponseWriter, r *http.Request)
	GetGeneration(ctx context.Context, input *handlers.GetGenerationInput) (*handlers.GetGenerationOutput, error)
	ListGenerations(ctx context.Context, input *handlers.ListGenerationsInput) (*handlers.ListGenerationsOutput, error)
}

// CreditHandlers serves balances, purchase history and operator credit changes.
type CreditHandlers interface {
	GetCredits(ctx context.Context, input *struct{}) (*handlers.GetCreditsOutput, error)
	ListPurchases(ctx context.Context, input *handlers.ListPurchasesInput) (*handlers.ListPurchasesOutput, error)
	UpdateAdminCredits(ctx context.Context, input *handlers.AdminCreditsInput) (*handlers.AdminCreditsOutput, error)
}

// Handlers aggregates the handlers routes are registered against.
type Handlers struct {
	Readyz func(ctx context.Context, input *struct{}) (*handlers.ReadyzOutput, error)

	Generation GenerationHandlers
	Credit     CreditHandlers

	// StripeWebhook may be nil when payments are not configured.
	StripeWebhook http.HandlerFunc
}

// Options configures Mount.
type Options struct {
	BaseURL  string
	Identity mw.IdentityConfig
	// RateLimit defaults to mw.DefaultRateLimitConfig when zero.
	RateLimit mw.RateLimitConfig
}

// Mount registers every route on router and returns the documented API.
//
// Callers are identified on the /api/v1 routes except the Stripe webhook,
// which is authenticated by its signature instead.
func Mount(router chi.Router, h *Handlers, opts Options) huma.API {
	if opts.RateLimit == (mw.RateLimitConfig{}) {
		opts.RateLimit = mw.DefaultRateLimitConfig()
	}

	cfg := NewHumaConfig(opts.BaseURL)
	api := humachi.New(router, cfg)
	RegisterPublic(api, h)

	if h.StripeWebhook != nil {
		router.Post("/api/v1/webhooks/stripe", h.StripeWebhook)
	}

	router.Group(func(r chi.Router) {
		r.Use(mw.Identity(opts.Identity))
		r.Use(mw.RateLimitByIdentity(opts.RateLimit))
		r.Use(mw.ExtendWriteDeadlineForWaitRequests())

		// Multipart upload is served raw; huma cannot stream file parts.
		r.Post("/api/v1/generations", h.Generation.CreateGeneration)

		RegisterProtected(humachi.New(r, noDocs(cfg)), h)

		r.Group(func(r chi.Router) {
			r.Use(mw.RequirePrivileged())
			RegisterAdmin(humachi.New(r, noDocs(cfg)), h)
		})
	})

	return api
}

// RegisterPublic registers the unauthenticated endpoints.
func RegisterPublic(api huma.API, h *Handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "healthCheck",
		Method:      http.MethodGet,
		Path:        "/api/v1/health",
		Summary:     "Health check",
		Tags:        []string{"Health"},
	}, handlers.HealthCheck)

	// Kubernetes probes (hidden from docs)
	huma.Register(api, huma.Operation{
		OperationID: "livez",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Hidden:      true,
	}, handlers.Livez)
	if h.Readyz != nil {
		huma.Register(api, huma.Operation{
			OperationID: "readyz",
			Method:      http.MethodGet,
			Path:        "/readyz",
			Hidden:      true,
		}, h.Readyz)
	}
}

// RegisterProtected registers the endpoints that act on behalf of a caller.
func RegisterProtected(api huma.API, h *Handlers) {
	security := []map[string][]string{{SecurityScheme: {}}, {}}

	documentCreateGeneration(api, security)

	huma.Register(api, huma.Operation{
		OperationID: "getGeneration",
		Method:      http.MethodGet,
		Path:        "/api/v1/generations/{id}",
		Summary:     "Get generation status",
		Description: "Reports the generation's state and advances it when still processing. With wait=true the call blocks until the video is ready or the wait budget runs out.",
		Tags:        []string{"Generations"},
		Security:    security,
	}, h.Generation.GetGeneration)

	huma.Register(api, huma.Operation{
		OperationID: "listGenerations",
		Method:      http.MethodGet,
		Path:        "/api/v1/generations",
		Summary:     "List generations",
		Tags:        []string{"Generations"},
		Security:    security,
	}, h.Generation.ListGenerations)

	huma.Register(api, huma.Operation{
		OperationID: "getCredits",
		Method:      http.MethodGet,
		Path:        "/api/v1/credits",
		Summary:     "Get credit balance",
		Tags:        []string{"Credits"},
		Security:    security,
	}, h.Credit.GetCredits)

	huma.Register(api, huma.Operation{
		OperationID: "listPurchases",
		Method:      http.MethodGet,
		Path:        "/api/v1/credits/purchases",
		Summary:     "List credit purchases",
		Tags:        []string{"Credits"},
		Security:    []map[string][]string{{SecurityScheme: {}}},
	}, h.Credit.ListPurchases)
}

// RegisterAdmin registers operator endpoints. Callers must be privileged.
func RegisterAdmin(api huma.API, h *Handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "updateAdminCredits",
		Method:      http.MethodPost,
		Path:        "/api/v1/admin/accounts/{id}/credits",
		Summary:     "Grant, revoke or set admin credits",
		Tags:        []string{"Admin"},
		Security:    []map[string][]string{{SecurityScheme: {}}},
		Hidden:      true,
	}, h.Credit.UpdateAdminCredits)
}

// documentCreateGeneration adds the raw multipart endpoint to the OpenAPI spec.
func documentCreateGeneration(api huma.API, security []map[string][]string) {
	api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "createGeneration",
		Method:      http.MethodPost,
		Path:        "/api/v1/generations",
		Summary:     "Create a talking-dog video",
		Description: "Uploads a dog photo and the line it should say. Spends a credit when use_credit is set, otherwise uses the free allowance.",
		Tags:        []string{"Generations"},
		Security:    security,
		RequestBody: &huma.RequestBody{
			Required: true,
			Content: map[string]*huma.MediaType{
				"multipart/form-data": {
					Schema: &huma.Schema{
						Type:     huma.TypeObject,
						Required: []string{"image", "text"},
						Properties: map[string]*huma.Schema{
							"image":          {Type: huma.TypeString, Format: "binary", Description: "JPEG, PNG, WebP, GIF or HEIC, up to 10MB"},
							"text":           {Type: huma.TypeString, Description: "What the dog says, up to 500 characters"},
							"aspect_ratio":   {Type: huma.TypeString, Enum: []any{"16:9", "9:16", "1:1"}},
							"generate_audio": {Type: huma.TypeBoolean, Default: true},
							"use_credit":     {Type: huma.TypeBoolean, Default: false},
						},
					},
				},
			},
		},
		Responses: map[string]*huma.Response{
			"201": {
				Description: "Generation accepted",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: api.OpenAPI().Components.Schemas.Schema(reflect.TypeOf(handlers.CreateGenerationResponse{}), true, "CreateGenerationResponse")},
				},
			},
			"400": {Description: "Invalid upload"},
			"402": {Description: "Not enough credits"},
			"429": {Description: "Free generation used; try again later"},
			"502": {Description: "The video service rejected the request"},
		},
	})
}
