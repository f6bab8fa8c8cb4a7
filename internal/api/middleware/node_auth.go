package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/edvin/fleet/internal/api/response"
	"github.com/edvin/fleet/internal/core"
	"github.com/edvin/fleet/internal/model"
)

// NodeIDHeader names the node an agent request speaks for.
const NodeIDHeader = "X-Node-ID"

const nodeKey contextKey = "node"

// NodeAuthenticator checks a node's shared secret. *core.NodeService
// satisfies it.
type NodeAuthenticator interface {
	Authenticate(ctx context.Context, nodeID, secret string) (*model.Node, error)
}

// NodeAuth returns a middleware for the agent API. Requests carry the node id
// in X-Node-ID and the registration secret as a bearer token.
func NodeAuth(nodes NodeAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			nodeID := r.Header.Get(NodeIDHeader)
			secret := bearerToken(r)
			if nodeID == "" || secret == "" {
				response.WriteError(w, http.StatusUnauthorized, "missing node credentials")
				return
			}

			node, err := nodes.Authenticate(r.Context(), nodeID, secret)
			if err != nil {
				if !errors.Is(err, core.ErrInvalidCredentials) {
					zerolog.Ctx(r.Context()).Error().Err(err).Str("node_id", nodeID).Msg("node lookup failed")
					response.WriteError(w, http.StatusInternalServerError, "authentication unavailable")
					return
				}
				response.WriteError(w, http.StatusUnauthorized, "invalid node credentials")
				return
			}

			logger := zerolog.Ctx(r.Context()).With().Str("node_id", node.ID).Logger()
			ctx := logger.WithContext(r.Context())
			ctx = context.WithValue(ctx, nodeKey, node)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetNode returns the authenticated node of an agent request.
func GetNode(ctx context.Context) *model.Node {
	node, _ := ctx.Value(nodeKey).(*model.Node)
	return node
}

// WithNode attaches an authenticated node to ctx.
func WithNode(ctx context.Context, node *model.Node) context.Context {
	return context.WithValue(ctx, nodeKey, node)
}
