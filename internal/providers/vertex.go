package providers

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/chatstack/llm-router/internal/llm"
)

const (
	vertexScope           = "https://www.googleapis.com/auth/cloud-platform"
	vertexDefaultLocation = "us-central1"

	// VertexCredentialsEnv may hold the service-account key JSON directly,
	// as an alternative to a key file path in the config.
	VertexCredentialsEnv = "VERTEX_SA_KEY"
)

// VertexConfig carries the Vertex-specific construction settings. Exactly one
// of CredentialsJSON / CredentialsFile is needed; when both are empty the
// VERTEX_SA_KEY environment variable is consulted.
type VertexConfig struct {
	ProjectID       string
	Location        string
	CredentialsJSON []byte
	CredentialsFile string

	BaseURL    string
	HTTPClient *http.Client
}

// Vertex is the Vertex-hosted variant of the Gemini adapter: identical
// request/stream behavior, but service-account authentication and the Vertex
// form of the search tool flag.
type Vertex struct {
	gemini      *Gemini
	projectID   string
	location    string
	baseURL     string
	client      *http.Client
	tokenSource oauth2.TokenSource
}

func NewVertex(cfg VertexConfig) (*Vertex, error) {
	creds := cfg.CredentialsJSON
	if len(creds) == 0 && cfg.CredentialsFile != "" {
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read vertex credentials file: %w", err)
		}
		creds = data
	}
	if len(creds) == 0 {
		if env := os.Getenv(VertexCredentialsEnv); env != "" {
			creds = []byte(env)
		}
	}
	if len(creds) == 0 {
		return nil, fmt.Errorf("vertex: no service account credentials supplied")
	}

	jwtCfg, err := google.JWTConfigFromJSON(creds, vertexScope)
	if err != nil {
		return nil, fmt.Errorf("parse vertex credentials: %w", err)
	}

	location := cfg.Location
	if location == "" {
		location = vertexDefaultLocation
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s-aiplatform.googleapis.com", location)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = Config{}.httpClient()
	}

	return &Vertex{
		gemini:      NewGemini(Config{HTTPClient: client}),
		projectID:   cfg.ProjectID,
		location:    location,
		baseURL:     baseURL,
		client:      client,
		tokenSource: jwtCfg.TokenSource(context.Background()),
	}, nil
}

func (p *Vertex) Name() string         { return "vertex" }
func (p *Vertex) DefaultModel() string { return geminiDefaultModel }
func (p *Vertex) MaxTokens() int       { return geminiMaxTokens }

func (p *Vertex) Models() []string { return p.gemini.Models() }

func (p *Vertex) SupportsModel(model string) bool { return p.gemini.SupportsModel(model) }

func (p *Vertex) Cost() llm.CostPerToken { return p.gemini.Cost() }

func (p *Vertex) SupportsFunctions() bool { return true }
func (p *Vertex) SupportsVision() bool    { return true }

func (p *Vertex) Embed(context.Context, string) ([]float64, error) {
	return nil, llm.ErrEmbeddingNotSupported
}

func (p *Vertex) Stream(ctx context.Context, messages []llm.Message, opts llm.StreamOptions) (llm.Stream, error) {
	model := opts.Model
	if model == "" {
		model = geminiDefaultModel
	}
	url := fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:streamGenerateContent?alt=sse",
		p.baseURL, p.projectID, p.location, model)

	token, err := p.tokenSource.Token()
	if err != nil {
		return nil, wrapVendorError(geminiDisplayName, fmt.Errorf("vertex auth: %w", err))
	}
	headers := make(http.Header)
	headers.Set("Authorization", "Bearer "+token.AccessToken)

	open := func(searchToolKey string) (*geminiStream, error) {
		body := buildGeminiBody(messages, opts, searchToolKey)
		resp, err := postJSON(ctx, p.client, url, headers, body)
		if err != nil {
			return nil, err
		}
		reader, err := decompressReader(resp)
		if err != nil {
			resp.Body.Close()
			return nil, err
		}
		return &geminiStream{body: reader, dec: newSSEDecoder(reader)}, nil
	}

	// Vertex spells the search tool differently from the public API.
	searchToolKey := ""
	if opts.WebSearch {
		searchToolKey = "googleSearchRetrieval"
	}

	opts.Log().Debug("opening vendor stream", "provider", p.Name(), "model", model, "web_search", opts.WebSearch)

	stream, err := open(searchToolKey)
	if err == nil {
		return stream, nil
	}
	if searchToolKey != "" && isGroundingUnsupported(err) {
		opts.Log().Info("search grounding unsupported, retrying without it", "model", model)
		fallback, retryErr := open("")
		if retryErr != nil {
			return nil, wrapVendorError(geminiDisplayName, retryErr)
		}
		fallback.notice = groundingNotice
		return fallback, nil
	}
	return nil, wrapGeminiError(err)
}
