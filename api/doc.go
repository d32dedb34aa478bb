// Package api defines the request and response bodies of the llmgate HTTP API.
//
// # API Overview
//
// llmgate exposes a small RESTful surface in front of the coalescing layer:
//   - POST /api/v1/generate          single request through cache, dedup and batching
//   - POST /api/v1/generate/parallel per-request calls with bounded concurrency
//   - GET  /api/v1/stats             cache, dedup, batch and executor counters
//   - POST /api/v1/clear             drop cached results and reject pending waiters
//   - GET  /health, /healthz, /ready, /version
//
// # Authentication
//
// When API keys are configured, endpoints other than health and version
// require the X-API-Key header:
//
//	X-API-Key: your-api-key
//
// A JWT bearer token (HS256 or RS256) is accepted instead when JWT is configured.
package api
