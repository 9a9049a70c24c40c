// Package websocket provides job submission and result delivery over
// WebSocket.
//
// Clients connect to /api/v1/ws and receive a "connected" message carrying
// their connection id. Jobs submitted over the connection are tagged with
// that id, and their results are pushed back as "result" messages.
package websocket
