// Package api defines the request and response types for the ChainFlow HTTP API.
//
// This package contains the shared response envelope and the DTOs exchanged
// by the ChainFlow HTTP API.
//
// # API Overview
//
// ChainFlow provides a RESTful API for:
//   - Enqueueing and inspecting workflow executions
//   - Pausing, resuming, cancelling, and retrying executions
//   - Validating workflow definitions without running them
//   - Tracking on-chain transaction attempts
//   - Streaming execution events over WebSocket
//   - Health monitoring and metrics
//
// # Authentication
//
// The configuration endpoints require authentication via the X-API-Key header:
//
//	X-API-Key: your-api-key
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
//
// # Generating Documentation
//
// To regenerate Swagger documentation using swag:
//
//	swag init -g cmd/chainflow/main.go -o api --parseDependency --parseInternal
package api
