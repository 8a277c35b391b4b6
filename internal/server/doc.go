// Package server provides the HTTP surface of the daemon.
//
// This package wires all components behind a Gin router:
//   - Options and popup state for the UI pages
//   - Click-to-call, SMS, and inbox actions against the remote API
//   - Document scanning and selection checks for page scripts
//   - The WebSocket broker endpoint
//   - Health and Prometheus metrics endpoints
//
// Server Lifecycle:
//  1. Load configuration from environment/flags
//  2. Initialize logger (production or development)
//  3. Construct store, client, profile manager, linker, poller, broker
//  4. Setup HTTP routes and middleware
//  5. Start HTTP server and poll loop
//  6. Graceful shutdown on signal
package server
