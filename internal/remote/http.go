package remote

import (
	"context"
	"errors"

	"connectrpc.com/connect"

	"github.com/ikimina/circles/internal/apperrors"
	"github.com/ikimina/circles/pkg/api"
	"github.com/ikimina/circles/pkg/api/apiconnect"
)

// HTTP reaches the collection service over Connect.
type HTTP struct {
	client apiconnect.CollectionServiceClient
	token  func() string
}

// Ensure HTTP implements Client
var _ Client = (*HTTP)(nil)

// NewHTTP creates a client for the server at baseURL. token is called before
// every request; an empty token sends the request unauthenticated.
func NewHTTP(httpClient connect.HTTPClient, baseURL string, token func() string, opts ...connect.ClientOption) *HTTP {
	return &HTTP{
		client: apiconnect.NewCollectionServiceClient(httpClient, baseURL, opts...),
		token:  token,
	}
}

func (h *HTTP) Query(ctx context.Context, q Query) ([]Record, error) {
	resp, err := h.client.Query(ctx, authorized(h, &api.QueryRequest{Query: q}))
	if err != nil {
		return nil, rpcError("query "+q.Collection, err)
	}
	return resp.Msg.Records, nil
}

func (h *HTTP) Insert(ctx context.Context, collection string, rec Record) (Record, error) {
	resp, err := h.client.Insert(ctx, authorized(h, &api.InsertRequest{Collection: collection, Record: rec}))
	if err != nil {
		return nil, rpcError("insert "+collection, err)
	}
	return resp.Msg.Record, nil
}

func (h *HTTP) Update(ctx context.Context, collection, id string, patch Record) error {
	_, err := h.client.Update(ctx, authorized(h, &api.UpdateRequest{Collection: collection, ID: id, Patch: patch}))
	if err != nil {
		return rpcError("update "+collection, err)
	}
	return nil
}

func (h *HTTP) Delete(ctx context.Context, collection string, match []Filter) (int64, error) {
	resp, err := h.client.Delete(ctx, authorized(h, &api.DeleteRequest{Collection: collection, Filters: match}))
	if err != nil {
		return 0, rpcError("delete "+collection, err)
	}
	return resp.Msg.Deleted, nil
}

func (h *HTTP) Adjust(ctx context.Context, collection, id, field string, delta int64) (int64, error) {
	resp, err := h.client.Adjust(ctx, authorized(h, &api.AdjustRequest{
		Collection: collection,
		ID:         id,
		Field:      field,
		Delta:      delta,
	}))
	if err != nil {
		return 0, rpcError("adjust "+collection, err)
	}
	return resp.Msg.Value, nil
}

// authorized wraps msg in a request carrying the current bearer token.
func authorized[T any](h *HTTP, msg *T) *connect.Request[T] {
	req := connect.NewRequest(msg)
	if h.token != nil {
		if token := h.token(); token != "" {
			req.Header().Set("Authorization", "Bearer "+token)
		}
	}
	return req
}

// rpcError maps a Connect error code onto a RemoteError kind.
func rpcError(op string, err error) error {
	kind := apperrors.KindNetwork
	switch connect.CodeOf(err) {
	case connect.CodePermissionDenied, connect.CodeUnauthenticated, connect.CodeInvalidArgument:
		kind = apperrors.KindDenied
	case connect.CodeNotFound:
		kind = apperrors.KindNotFound
	case connect.CodeAlreadyExists, connect.CodeAborted, connect.CodeFailedPrecondition:
		kind = apperrors.KindConflict
	}
	var ce *connect.Error
	if errors.As(err, &ce) {
		return apperrors.Remote(kind, op, errors.New(ce.Message()))
	}
	return apperrors.Remote(kind, op, err)
}
