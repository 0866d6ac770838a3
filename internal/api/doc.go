// Package api implements the HTTP REST API and WebSocket server for the
// wavemeter daemon.
//
// This package provides:
//   - REST endpoints for measurement snapshots, instrument control, lock
//     control, autocalibration and lock profiles
//   - WebSocket hub streaming measurement, lock and calibration events
//   - Optional JWT bearer authentication
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The API server sits between lab clients (control GUIs, notebooks,
// monitoring scripts) and the measurement core. Reads come from the
// broadcaster's latest-value snapshots; mutations go through the command
// dispatcher, which serializes instrument access. The WebSocket stream
// relays broadcast events, opening with a snapshot burst so clients start
// from current state.
//
// # Security
//
// Authentication is optional JWT with a shared secret, normally disabled on
// a trusted lab network. WebSocket clients pass their token as a query
// parameter since browsers cannot set headers on the upgrade request.
package api
