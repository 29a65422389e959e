// Package api defines the request and response types of the CareFlow HTTP API.
//
// # API Overview
//
// CareFlow exposes one healthcare group chat per conversation id:
//   - GET  /v1/agents lists the roster
//   - GET  /v1/chats/{cid}/messages returns the active patient scope
//   - POST /v1/chats/{cid}/patient forces the active patient
//   - POST /v1/chats/{cid}/clear archives the conversation
//   - GET  /v1/chats/{cid}/ws streams turns over a websocket
//   - GET  /v1/blobs/{key} serves signed blob reads
//
// # Authentication
//
// When a JWT secret is configured, /v1 endpoints require
//
//	Authorization: Bearer <token>
//
// with a tenant_id claim. Blob reads are authorized by their sig parameter instead.
package api
