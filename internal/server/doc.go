// Package server implements the MCP (Model Context Protocol) server for the
// MARIDA marine debris corpus.
//
// The server exposes the corpus pipeline to MCP clients: patch addressing,
// label lookup, sample loading and augmentation, quick-look previews, the
// confidence-weighted loss, metric aggregation and dataset verification.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Corpus:
//   - corpus_info: Bands, patch size, classes and split sizes
//   - patch_resolve: Raster paths and label key of an identifier
//   - label_lookup: Multi-hot label vector of an identifier
//
// Samples:
//   - corpus_sample: Load and summarize one sample, optionally transformed
//   - sample_preview: Render a sample as PNG
//
// Training support:
//   - loss_compute: Confidence-weighted BCE with logits
//   - metrics_aggregate: Per-class AP, mAP, accuracy and F1
//
// Verification:
//   - corpus_verify: Check every sample of a split
//   - verify_history: Recorded verification runs and their problems
//
// # Corpus Loading
//
// The label table and the three splits are opened on the first call that
// needs them and kept for the lifetime of the process. A failed open is
// retried on the next call, so the data directory may be populated after the
// server has started.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: The Go error string
//
// Undefined metric values (the AP of a class without positives) are encoded
// as JSON null.
//
// # Usage
//
//	srv := server.New(cfg, server.WithCatalog(cat))
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
package server
