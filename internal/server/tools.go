package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

var (
	splitProperty = map[string]interface{}{
		"type":        "string",
		"enum":        []string{"train", "val", "test"},
		"description": "Dataset split",
	}
	indexProperty = map[string]interface{}{
		"type":        "integer",
		"description": "0-based sample index within the split",
	}
	identifierProperty = map[string]interface{}{
		"type":        "string",
		"description": "Patch identifier <date>_<tile>_<index>, e.g. 1-12-19_48MYU_0",
	}
	matrixProperty = func(desc string) map[string]interface{} {
		return map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "number"},
			},
			"description": desc,
		}
	}
	vectorProperty = func(desc string) map[string]interface{} {
		return map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "number"},
			"description": desc,
		}
	}
)

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Corpus
		{
			Name:        "corpus_info",
			Description: "Describe the configured corpus: data directory, bands, patch size, class names with positive counts, and the number of patches in each split.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "patch_resolve",
			Description: "Resolve a patch identifier to its image, class mask and confidence raster paths and its label key. Reports which files exist.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"identifier": identifierProperty,
				},
				"required": []string{"identifier"},
			},
		},
		{
			Name:        "label_lookup",
			Description: "Look up the multi-hot label vector of a patch and the names of its positive classes.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"identifier": identifierProperty,
				},
				"required": []string{"identifier"},
			},
		},

		// Samples
		{
			Name:        "corpus_sample",
			Description: "Load one sample of a split and summarize it: shape, labels, per-band statistics, mean confidence and class mask histogram. Mode 'eval' normalizes the image; 'train' also applies a random rotation and flips.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"split": splitProperty,
					"index": indexProperty,
					"mode": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"raw", "eval", "train"},
						"description": "Transform applied before summarizing. Default raw",
						"default":     "raw",
					},
					"seed": map[string]interface{}{
						"type":        "integer",
						"description": "Optional seed for the train mode transform draw",
					},
				},
				"required": []string{"split", "index"},
			},
		},
		{
			Name:        "sample_preview",
			Description: "Render a sample as a base64-encoded PNG: true-color composite, confidence heat map, class mask, class overlay or all three side by side with a class legend.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"split": splitProperty,
					"index": indexProperty,
					"panel": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"rgb", "confidence", "classes", "overlay", "strip"},
						"description": "Panel to render. Default strip",
						"default":     "strip",
					},
					"region": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"full", "top-left", "top-right", "bottom-left", "bottom-right", "top-half", "bottom-half", "left-half", "right-half", "center"},
						"description": "Named region of the patch to show. Default full",
					},
					"scale": map[string]interface{}{
						"type":        "number",
						"description": "Optional scale factor. Default 1.0",
						"default":     1.0,
					},
					"opacity": map[string]interface{}{
						"type":        "number",
						"description": "Class overlay opacity (0-1). Default 0.5",
						"default":     0.5,
					},
					"gamma": map[string]interface{}{
						"type":        "number",
						"description": "Composite gamma; values above 1 brighten. Default 1.0",
					},
					"output_path": map[string]interface{}{
						"type":        "string",
						"description": "Optional path to also save the PNG to",
					},
				},
				"required": []string{"split", "index"},
			},
		},

		// Training support
		{
			Name:        "loss_compute",
			Description: "Compute the confidence-weighted binary cross-entropy with logits for a batch. Confidence is per sample or per element; omitted confidence weighs every element by 1.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"predictions":            matrixProperty("Logits, shape [batch, classes]"),
					"targets":                matrixProperty("Binary targets, shape [batch, classes]"),
					"confidence":             vectorProperty("Optional per-sample weights, shape [batch]"),
					"confidence_elementwise": matrixProperty("Optional per-element weights, shape [batch, classes]"),
					"pos_weight":             vectorProperty("Optional per-class positive weights, shape [classes]"),
				},
				"required": []string{"predictions", "targets"},
			},
		},
		{
			Name:        "metrics_aggregate",
			Description: "Aggregate prediction/target batches into per-class average precision, mAP, accuracy and F1. Classes without positive targets report null AP and are left out of mAP.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"batches": map[string]interface{}{
						"type": "array",
						"items": map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"predictions": matrixProperty("Scores in [0, 1], shape [batch, classes]"),
								"targets":     matrixProperty("Binary targets, shape [batch, classes]"),
							},
							"required": []string{"predictions", "targets"},
						},
					},
					"plot_path": map[string]interface{}{
						"type":        "string",
						"description": "Optional PNG path for the per-class precision-recall curves",
					},
				},
				"required": []string{"batches"},
			},
		},

		// Verification
		{
			Name:        "corpus_verify",
			Description: "Load every sample of a split and report missing labels, missing or unreadable rasters, misaligned masks and unexpected patch sizes. Runs are recorded when a catalog is configured.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"split": splitProperty,
					"workers": map[string]interface{}{
						"type":        "integer",
						"description": "Optional number of loader goroutines",
					},
				},
				"required": []string{"split"},
			},
		},
		{
			Name:        "verify_history",
			Description: "List recorded verification runs, newest first, or the problems of one run when run_id is given.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"split": map[string]interface{}{
						"type":        "string",
						"description": "Optional split filter",
					},
					"run_id": map[string]interface{}{
						"type":        "string",
						"description": "Optional run whose problems to list",
					},
				},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
