package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ironsheep/marida-corpus-mcp/internal/catalog"
	"github.com/ironsheep/marida-corpus-mcp/internal/config"
	"github.com/ironsheep/marida-corpus-mcp/internal/dataset"
	"github.com/ironsheep/marida-corpus-mcp/internal/labels"
	"github.com/ironsheep/marida-corpus-mcp/internal/monitoring"
)

// Server handles MCP protocol communication
type Server struct {
	cfg     *config.Config
	catalog *catalog.Catalog
	version string

	mu     sync.Mutex
	table  *labels.Table
	corpus *dataset.Corpus
}

// Option configures a Server.
type Option func(*Server)

// WithCatalog records verification runs in c and enables verify_history.
func WithCatalog(c *catalog.Catalog) Option {
	return func(s *Server) { s.catalog = c }
}

// WithVersion sets the version reported in the initialize handshake.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// MCPRequest represents an incoming JSON-RPC request
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an outgoing JSON-RPC response
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents a JSON-RPC error
type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// New creates a server over the corpus described by cfg. The label table
// and splits are opened on first use, so a server can start before the data
// is in place.
func New(cfg *config.Config, opts ...Option) *Server {
	s := &Server{cfg: cfg, version: "0.1.0"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run serves MCP requests from stdin and writes responses to stdout
func (s *Server) Run() error {
	return s.Serve(os.Stdin, os.Stdout)
}

// Serve reads one JSON-RPC request per line from r and writes responses to w
// until r is exhausted.
func (s *Server) Serve(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	// Loss and metric calls carry whole batches.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 16*1024*1024)

	encoder := json.NewEncoder(w)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req MCPRequest
		if err := json.Unmarshal(line, &req); err != nil {
			monitoring.Logf("Failed to parse request: %v", err)
			continue
		}

		resp := s.handleRequest(&req)
		if resp != nil {
			if err := encoder.Encode(resp); err != nil {
				monitoring.Logf("Failed to encode response: %v", err)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	return nil
}

// handleRequest routes requests to appropriate handlers
func (s *Server) handleRequest(req *MCPRequest) *MCPResponse {
	monitoring.Debugf("request %v: %s", req.ID, req.Method)

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		// Client acknowledgment, no response needed
		return nil
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(req)
	case "ping":
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  map[string]interface{}{},
		}
	default:
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &MCPError{
				Code:    -32601,
				Message: fmt.Sprintf("Method not found: %s", req.Method),
			},
		}
	}
}

// handleInitialize responds to the initialize request
func (s *Server) handleInitialize(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    "marida-corpus-mcp",
				"version": s.version,
			},
		},
	}
}

// labels returns the label table, loading it on first use.
func (s *Server) labels() (*labels.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.labelsLocked()
}

func (s *Server) labelsLocked() (*labels.Table, error) {
	if s.table != nil {
		return s.table, nil
	}
	t, err := labels.Load(s.cfg.LabelsFile, s.cfg.NumClasses)
	if err != nil {
		return nil, err
	}
	s.table = t
	return t, nil
}

// split returns the named dataset, opening the corpus on first use. A failed
// open is retried on the next call.
func (s *Server) split(name string) (*dataset.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.corpus == nil {
		t, err := s.labelsLocked()
		if err != nil {
			return nil, err
		}
		c, err := dataset.OpenCorpus(s.cfg, dataset.WithLabels(t))
		if err != nil {
			return nil, err
		}
		s.corpus = c
		monitoring.Logf("opened corpus at %s: %v", s.cfg.DataDir, c.Sizes())
	}
	return s.corpus.Split(name)
}
