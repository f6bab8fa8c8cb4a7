// Package api serves the fleet control plane over HTTP: the operator API
// under /api/v1, authenticated with API keys, and the node agent API under
// /agent/v1, authenticated with per-node shared secrets.
package api
