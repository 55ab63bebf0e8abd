// Package internal holds the gate's private building blocks.
//
//   - audit: buffered event dispatch and sinks
//   - flows: login, refresh, authenticate and logout orchestration
//   - httpapi: the HTTP surface served by cmd/authgate-server
//   - rate: the Redis fixed-window limiter and its store-failure policy
package internal
