package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ironsheep/marida-corpus-mcp/internal/augment"
	"github.com/ironsheep/marida-corpus-mcp/internal/dataset"
	"github.com/ironsheep/marida-corpus-mcp/internal/labels"
	"github.com/ironsheep/marida-corpus-mcp/internal/loss"
	"github.com/ironsheep/marida-corpus-mcp/internal/metrics"
	"github.com/ironsheep/marida-corpus-mcp/internal/patch"
	"github.com/ironsheep/marida-corpus-mcp/internal/preview"
	"github.com/ironsheep/marida-corpus-mcp/internal/raster"
)

// errNoCatalog is returned by verify_history when no catalog is configured.
var errNoCatalog = errors.New("no verification catalog configured")

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "corpus_info", "sample_preview").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(params.Name, params.Arguments)
	if err != nil {
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(name string, args json.RawMessage) (interface{}, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	switch name {
	// Corpus
	case "corpus_info":
		return s.handleCorpusInfo(args)
	case "patch_resolve":
		return s.handlePatchResolve(args)
	case "label_lookup":
		return s.handleLabelLookup(args)

	// Samples
	case "corpus_sample":
		return s.handleCorpusSample(args)
	case "sample_preview":
		return s.handleSamplePreview(args)

	// Training support
	case "loss_compute":
		return s.handleLossCompute(args)
	case "metrics_aggregate":
		return s.handleMetricsAggregate(args)

	// Verification
	case "corpus_verify":
		return s.handleCorpusVerify(args)
	case "verify_history":
		return s.handleVerifyHistory(args)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure it returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// nullable maps NaN and infinities to nil so they encode as JSON null.
func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// === Corpus Handlers ===

type classInfo struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	Positives int    `json:"positives"`
}

type corpusInfoResult struct {
	DataDir   string         `json:"data_dir"`
	Bands     []string       `json:"bands"`
	ImageSize int            `json:"image_size"`
	Labelled  int            `json:"labelled_patches"`
	Classes   []classInfo    `json:"classes"`
	Splits    map[string]int `json:"splits"`
}

func (s *Server) handleCorpusInfo(args json.RawMessage) (interface{}, error) {
	table, err := s.labels()
	if err != nil {
		return nil, err
	}
	train, err := s.split(dataset.Train)
	if err != nil {
		return nil, err
	}

	counts := table.ClassCounts()
	classes := make([]classInfo, len(counts))
	for i, n := range counts {
		classes[i] = classInfo{Index: i, Name: className(i), Positives: n}
	}

	sizes := map[string]int{dataset.Train: train.Size()}
	for _, name := range []string{dataset.Val, dataset.Test} {
		d, err := s.split(name)
		if err != nil {
			return nil, err
		}
		sizes[name] = d.Size()
	}

	return &corpusInfoResult{
		DataDir:   s.cfg.DataDir,
		Bands:     s.cfg.Bands,
		ImageSize: s.cfg.ImageSize,
		Labelled:  table.Len(),
		Classes:   classes,
		Splits:    sizes,
	}, nil
}

func className(i int) string {
	if i < len(labels.ClassNames) {
		return labels.ClassNames[i]
	}
	return fmt.Sprintf("class_%d", i)
}

type identifierArgs struct {
	Identifier string `json:"identifier"`
}

type patchResolveResult struct {
	Identifier     string          `json:"identifier"`
	Scene          string          `json:"scene"`
	LabelKey       string          `json:"label_key"`
	ImagePath      string          `json:"image_path"`
	ClassMaskPath  string          `json:"class_mask_path"`
	ConfidencePath string          `json:"confidence_path"`
	Exists         map[string]bool `json:"exists"`
}

func (s *Server) handlePatchResolve(args json.RawMessage) (interface{}, error) {
	var a identifierArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	id, err := patch.Parse(a.Identifier)
	if err != nil {
		return nil, err
	}
	addr := patch.NewResolver(s.cfg.PatchesDir).Resolve(id)

	exists := make(map[string]bool, 3)
	for _, p := range addr.Paths() {
		_, err := os.Stat(p)
		exists[p] = err == nil
	}
	return &patchResolveResult{
		Identifier:     id.String(),
		Scene:          id.Scene(),
		LabelKey:       patch.LabelKey(id),
		ImagePath:      addr.ImagePath,
		ClassMaskPath:  addr.ClassMaskPath,
		ConfidencePath: addr.ConfidencePath,
		Exists:         exists,
	}, nil
}

type labelLookupResult struct {
	Identifier string    `json:"identifier"`
	LabelKey   string    `json:"label_key"`
	Vector     []float32 `json:"vector"`
	Positives  []int     `json:"positives"`
	Names      []string  `json:"names"`
}

func (s *Server) handleLabelLookup(args json.RawMessage) (interface{}, error) {
	var a identifierArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	id, err := patch.Parse(a.Identifier)
	if err != nil {
		return nil, err
	}
	table, err := s.labels()
	if err != nil {
		return nil, err
	}
	v, err := table.Lookup(id)
	if err != nil {
		return nil, err
	}
	return &labelLookupResult{
		Identifier: id.String(),
		LabelKey:   patch.LabelKey(id),
		Vector:     v,
		Positives:  v.Positives(),
		Names:      v.Names(),
	}, nil
}

// === Sample Handlers ===

type sampleArgs struct {
	Split string `json:"split"`
	Index int    `json:"index"`
}

type corpusSampleArgs struct {
	sampleArgs
	Mode string  `json:"mode"`
	Seed *uint64 `json:"seed"`
}

type bandSummary struct {
	Band int     `json:"band"`
	Name string  `json:"name"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

type corpusSampleResult struct {
	Split      string                   `json:"split"`
	Index      int                      `json:"index"`
	Identifier string                   `json:"identifier"`
	Mode       string                   `json:"mode"`
	Shape      [3]int                   `json:"shape"`
	Labels     []float32                `json:"labels"`
	Positives  []string                 `json:"positives"`
	Confidence float64                  `json:"mean_confidence"`
	Bands      []bandSummary            `json:"bands"`
	Classes    []preview.ClassFrequency `json:"classes"`
	Transform  *augment.Transform       `json:"transform,omitempty"`
}

func (s *Server) loadSample(a sampleArgs) (*dataset.Sample, error) {
	d, err := s.split(a.Split)
	if err != nil {
		return nil, err
	}
	return d.Get(a.Index)
}

func (s *Server) handleCorpusSample(args json.RawMessage) (interface{}, error) {
	var a corpusSampleArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Mode == "" {
		a.Mode = "raw"
	}

	sample, err := s.loadSample(a.sampleArgs)
	if err != nil {
		return nil, err
	}

	result := &corpusSampleResult{
		Split:      a.Split,
		Index:      a.Index,
		Identifier: sample.Identifier.String(),
		Mode:       a.Mode,
		Labels:     sample.Labels,
		Positives:  sample.Labels.Names(),
	}

	img, conf, mask := sample.Image, sample.Confidence, sample.ClassMask
	switch a.Mode {
	case "raw":
	case "eval", "train":
		opts := augment.FromConfig(s.cfg.Augment)
		if a.Seed != nil {
			opts = append(opts, augment.WithSeed(*a.Seed))
		}
		aug := augment.New(a.Mode == "train", opts...)
		t := aug.Draw()
		if img, conf, err = aug.ApplyTransform(t, img, conf); err != nil {
			return nil, err
		}
		mask = augment.Geometric(mask, t)
		if a.Mode == "train" {
			result.Transform = &t
		}
	default:
		return nil, fmt.Errorf("unknown mode: %s", a.Mode)
	}

	result.Shape = img.Shape()
	if result.Confidence, err = loss.MaskConfidence(conf); err != nil {
		return nil, err
	}
	result.Bands = summarizeBands(img, s.cfg.Bands)
	result.Classes = preview.ClassHistogram(mask, 0)
	return result, nil
}

func summarizeBands(r *raster.Raster, names []string) []bandSummary {
	out := make([]bandSummary, r.Bands)
	vals := make([]float64, r.Height*r.Width)
	for b := 0; b < r.Bands; b++ {
		for i, v := range r.Band(b) {
			vals[i] = float64(v)
		}
		out[b] = bandSummary{
			Band: b,
			Min:  floats.Min(vals),
			Max:  floats.Max(vals),
			Mean: stat.Mean(vals, nil),
		}
		if b < len(names) {
			out[b].Name = names[b]
		}
	}
	return out
}

type samplePreviewArgs struct {
	sampleArgs
	Panel      string  `json:"panel"`
	Region     string  `json:"region"`
	Scale      float64 `json:"scale"`
	Opacity    float64 `json:"opacity"`
	Gamma      float64 `json:"gamma"`
	OutputPath string  `json:"output_path"`
}

type samplePreviewResult struct {
	*preview.Image
	Identifier string                   `json:"identifier"`
	Panel      string                   `json:"panel"`
	Classes    []preview.ClassFrequency `json:"classes"`
	SavedTo    string                   `json:"saved_to,omitempty"`
}

func (s *Server) handleSamplePreview(args json.RawMessage) (interface{}, error) {
	var a samplePreviewArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Panel == "" {
		a.Panel = preview.PanelStrip
	}

	sample, err := s.loadSample(a.sampleArgs)
	if err != nil {
		return nil, err
	}

	img, err := preview.Render(sample.Image, sample.Confidence, sample.ClassMask, preview.Options{
		Panel:   a.Panel,
		Region:  a.Region,
		Scale:   a.Scale,
		Opacity: a.Opacity,
		Gamma:   a.Gamma,
	})
	if err != nil {
		return nil, err
	}
	enc, err := preview.Encode(img)
	if err != nil {
		return nil, err
	}

	result := &samplePreviewResult{
		Image:      enc,
		Identifier: sample.Identifier.String(),
		Panel:      a.Panel,
		Classes:    preview.ClassHistogram(sample.ClassMask, 0),
	}
	if a.OutputPath != "" {
		if err := preview.Save(a.OutputPath, img); err != nil {
			return nil, err
		}
		result.SavedTo = a.OutputPath
	}
	return result, nil
}

// === Training Support Handlers ===

type lossComputeArgs struct {
	Predictions           [][]float64 `json:"predictions"`
	Targets               [][]float64 `json:"targets"`
	Confidence            []float64   `json:"confidence"`
	ConfidenceElementwise [][]float64 `json:"confidence_elementwise"`
	PosWeight             []float64   `json:"pos_weight"`
}

type lossComputeResult struct {
	Loss      float64 `json:"loss"`
	Samples   int     `json:"samples"`
	Weighting string  `json:"weighting"`
}

func (s *Server) handleLossCompute(args json.RawMessage) (interface{}, error) {
	var a lossComputeArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Confidence != nil && a.ConfidenceElementwise != nil {
		return nil, fmt.Errorf("confidence and confidence_elementwise are mutually exclusive")
	}

	bce := loss.BCE{PosWeight: a.PosWeight}
	result := &lossComputeResult{Samples: len(a.Predictions)}
	var err error
	switch {
	case a.ConfidenceElementwise != nil:
		result.Weighting = "element"
		result.Loss, err = bce.ComputeElementwise(a.Predictions, a.Targets, a.ConfidenceElementwise)
	case a.Confidence != nil:
		result.Weighting = "sample"
		result.Loss, err = bce.Compute(a.Predictions, a.Targets, a.Confidence)
	default:
		result.Weighting = "none"
		ones := make([]float64, len(a.Predictions))
		for i := range ones {
			ones[i] = 1
		}
		result.Loss, err = bce.Compute(a.Predictions, a.Targets, ones)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

type metricsAggregateArgs struct {
	Batches  []metrics.Batch `json:"batches"`
	PlotPath string          `json:"plot_path"`
}

type metricsAggregateResult struct {
	Metrics          map[string]*float64 `json:"metrics"`
	APPerClass       []*float64          `json:"ap_per_class"`
	UndefinedClasses []int               `json:"undefined_classes"`
	Samples          int                 `json:"samples"`
	Classes          int                 `json:"classes"`
	PlotPath         string              `json:"plot_path,omitempty"`
}

func (s *Server) handleMetricsAggregate(args json.RawMessage) (interface{}, error) {
	var a metricsAggregateArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	report, err := metrics.Aggregate(a.Batches)
	if err != nil {
		return nil, err
	}

	result := &metricsAggregateResult{
		Metrics:          make(map[string]*float64, len(report.Metrics)),
		APPerClass:       make([]*float64, len(report.APPerClass)),
		UndefinedClasses: report.UndefinedClasses,
		Samples:          report.Samples,
		Classes:          report.Classes,
	}
	for k, v := range report.Metrics {
		result.Metrics[k] = nullable(v)
	}
	for i, v := range report.APPerClass {
		result.APPerClass[i] = nullable(v)
	}

	if a.PlotPath != "" {
		names := make([]string, report.Classes)
		for i := range names {
			names[i] = className(i)
		}
		if err := metrics.PlotPRCurves(report, names, a.PlotPath); err != nil {
			return nil, err
		}
		result.PlotPath = a.PlotPath
	}
	return result, nil
}

// === Verification Handlers ===

type corpusVerifyArgs struct {
	Split   string `json:"split"`
	Workers int    `json:"workers"`
}

type corpusVerifyResult struct {
	*dataset.VerifyReport
	RunID string `json:"run_id,omitempty"`
}

func (s *Server) handleCorpusVerify(args json.RawMessage) (interface{}, error) {
	var a corpusVerifyArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	d, err := s.split(a.Split)
	if err != nil {
		return nil, err
	}
	report, err := dataset.Verify(context.Background(), d, s.cfg.ImageSize, a.Workers)
	if err != nil {
		return nil, err
	}

	result := &corpusVerifyResult{VerifyReport: report}
	if s.catalog != nil {
		run, err := s.catalog.Record(report)
		if err != nil {
			return nil, err
		}
		result.RunID = run.RunID
	}
	return result, nil
}

type verifyHistoryArgs struct {
	Split string `json:"split"`
	RunID string `json:"run_id"`
}

func (s *Server) handleVerifyHistory(args json.RawMessage) (interface{}, error) {
	var a verifyHistoryArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if s.catalog == nil {
		return nil, errNoCatalog
	}

	if a.RunID != "" {
		problems, err := s.catalog.Problems(a.RunID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"run_id": a.RunID, "problems": problems}, nil
	}
	runs, err := s.catalog.Runs(a.Split)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"runs": runs}, nil
}
