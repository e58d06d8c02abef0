// Package moduleclient implements the typed, schema-validating RPC to a
// module service described in spec.md §4.2 and §6.2: POST JSON, one
// per-request timeout, strict validation of both "meta" and "output"
// against the role's compiled JSON Schema, and no retries — module
// services own their own retry/fallback behavior.
package moduleclient

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/LoshkinOleg/MorpheusEngine/pkg/models"
)

//go:embed schemas
var schemaFS embed.FS

// Role → endpoint path suffix, per spec.md §6.2.
const (
	EndpointIntentExtractor  = "/invoke"
	EndpointLoremasterRetrieve = "/retrieve"
	EndpointLoremasterPre    = "/pre"
	EndpointLoremasterPost   = "/post"
	EndpointDefaultSimulator = "/invoke"
	EndpointArbiter          = "/invoke"
	EndpointProser           = "/invoke"
)

const schemaBaseURL = "https://morpheus-router/schemas/"

// outputSchemaByRole maps a (role, endpoint) pair to its embedded output schema filename.
var outputSchemaByRole = map[string]string{
	"intent_extractor":     "intent_extractor.output.schema.json",
	"loremaster_retrieve":  "loremaster_retrieve.output.schema.json",
	"loremaster_pre":       "loremaster_pre.output.schema.json",
	"loremaster_post":      "loremaster_post.output.schema.json",
	"default_simulator":    "proposed_diff.output.schema.json",
	"arbiter":              "arbiter.output.schema.json",
	"proser":               "proser.output.schema.json",
}

// Client performs a single typed RPC to a module endpoint.
type Client struct {
	httpClient     *http.Client
	timeout        time.Duration
	envelopeSchema *jsonschema.Schema
	outputSchemas  map[string]*jsonschema.Schema
}

// New compiles the embedded JSON Schemas once and returns a ready Client.
// timeout is the default per-request timeout (spec.md §6.4, overridable via
// MODULE_REQUEST_TIMEOUT_MS at the config layer).
func New(timeout time.Duration) (*Client, error) {
	compiler := jsonschema.NewCompiler()

	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("moduleclient: reading embedded schemas: %w", err)
	}
	for _, entry := range entries {
		data, err := schemaFS.ReadFile("schemas/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("moduleclient: reading schema %s: %w", entry.Name(), err)
		}
		if err := compiler.AddResource(schemaBaseURL+entry.Name(), bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("moduleclient: registering schema %s: %w", entry.Name(), err)
		}
	}

	envelopeSchema, err := compiler.Compile(schemaBaseURL + "envelope.schema.json")
	if err != nil {
		return nil, fmt.Errorf("moduleclient: compiling envelope schema: %w", err)
	}

	outputSchemas := make(map[string]*jsonschema.Schema, len(outputSchemaByRole))
	for role, file := range outputSchemaByRole {
		schema, err := compiler.Compile(schemaBaseURL + file)
		if err != nil {
			return nil, fmt.Errorf("moduleclient: compiling output schema for %s: %w", role, err)
		}
		outputSchemas[role] = schema
	}

	return &Client{
		httpClient:     &http.Client{},
		timeout:        timeout,
		envelopeSchema: envelopeSchema,
		outputSchemas:  outputSchemas,
	}, nil
}

// Envelope is the uniform module response shape from spec.md §6.2.
type Envelope struct {
	Meta   ResponseMeta    `json:"meta"`
	Output json.RawMessage `json:"output"`
	Debug  ResponseDebug   `json:"debug"`
}

// ResponseMeta carries the module name and any non-fatal warnings.
type ResponseMeta struct {
	ModuleName string   `json:"moduleName"`
	Warnings   []string `json:"warnings"`
}

// ResponseDebug carries optional debug information, surfaced verbatim.
type ResponseDebug struct {
	LLMConversation json.RawMessage `json:"llmConversation,omitempty"`
}

// Invoke POSTs request as JSON to baseURL+endpoint, enforces the configured
// timeout, and strictly validates the response envelope and its "output"
// field against role's schema. On success, out is populated by
// json.Unmarshal-ing Envelope.Output (out should be a pointer to the role's
// typed output struct, e.g. *models.ActionCandidates).
func (c *Client) Invoke(ctx context.Context, role, endpoint, baseURL string, request any, out any) (*Envelope, error) {
	schema, ok := c.outputSchemas[role]
	if !ok {
		return nil, fmt.Errorf("moduleclient: no schema registered for role %q", role)
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, &models.ModuleError{Kind: models.ModuleErrorNetwork, Role: role, Err: fmt.Errorf("marshalling request: %w", err)}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &models.ModuleError{Kind: models.ModuleErrorNetwork, Role: role, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return nil, &models.ModuleError{Kind: models.ModuleErrorTimeout, Role: role, Err: err}
		}
		return nil, &models.ModuleError{Kind: models.ModuleErrorNetwork, Role: role, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.ModuleError{Kind: models.ModuleErrorNetwork, Role: role, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &models.ModuleError{
			Kind:        models.ModuleErrorHTTP,
			Role:        role,
			Status:      resp.StatusCode,
			BodySnippet: snippet(respBody, 256),
		}
	}

	var raw any
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, &models.ModuleError{Kind: models.ModuleErrorSchema, Role: role, Issue: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if err := c.envelopeSchema.Validate(raw); err != nil {
		return nil, &models.ModuleError{Kind: models.ModuleErrorSchema, Role: role, Issue: "envelope: " + err.Error()}
	}

	var envelope Envelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, &models.ModuleError{Kind: models.ModuleErrorSchema, Role: role, Issue: fmt.Sprintf("envelope decode: %v", err)}
	}

	var outputRaw any
	if err := json.Unmarshal(envelope.Output, &outputRaw); err != nil {
		return nil, &models.ModuleError{Kind: models.ModuleErrorSchema, Role: role, Issue: fmt.Sprintf("invalid output JSON: %v", err)}
	}
	if err := schema.Validate(outputRaw); err != nil {
		return nil, &models.ModuleError{Kind: models.ModuleErrorSchema, Role: role, Issue: "output: " + err.Error()}
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Output, out); err != nil {
			return nil, &models.ModuleError{Kind: models.ModuleErrorSchema, Role: role, Issue: fmt.Sprintf("output decode: %v", err)}
		}
	}

	return &envelope, nil
}

func snippet(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
