// Package apiconnect wires the circles services to Connect handlers and clients.
package apiconnect

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/ikimina/circles/pkg/api"
)

const (
	// CollectionServiceName is the fully-qualified name of the CollectionService service.
	CollectionServiceName = "circles.v1.CollectionService"
	// AuthServiceName is the fully-qualified name of the AuthService service.
	AuthServiceName = "circles.v1.AuthService"
)

// Procedure paths.
const (
	CollectionServiceQueryProcedure  = "/circles.v1.CollectionService/Query"
	CollectionServiceInsertProcedure = "/circles.v1.CollectionService/Insert"
	CollectionServiceUpdateProcedure = "/circles.v1.CollectionService/Update"
	CollectionServiceDeleteProcedure = "/circles.v1.CollectionService/Delete"
	CollectionServiceAdjustProcedure = "/circles.v1.CollectionService/Adjust"

	AuthServiceRegisterProcedure       = "/circles.v1.AuthService/Register"
	AuthServiceLoginProcedure          = "/circles.v1.AuthService/Login"
	AuthServiceLogoutProcedure         = "/circles.v1.AuthService/Logout"
	AuthServiceGetCurrentUserProcedure = "/circles.v1.AuthService/GetCurrentUser"
)

// IsAPIPath reports whether path belongs to one of the RPC services.
func IsAPIPath(path string) bool {
	return strings.HasPrefix(path, "/circles.v1.")
}

// CollectionServiceHandler is implemented by the server side of CollectionService.
type CollectionServiceHandler interface {
	Query(context.Context, *connect.Request[api.QueryRequest]) (*connect.Response[api.QueryResponse], error)
	Insert(context.Context, *connect.Request[api.InsertRequest]) (*connect.Response[api.InsertResponse], error)
	Update(context.Context, *connect.Request[api.UpdateRequest]) (*connect.Response[api.UpdateResponse], error)
	Delete(context.Context, *connect.Request[api.DeleteRequest]) (*connect.Response[api.DeleteResponse], error)
	Adjust(context.Context, *connect.Request[api.AdjustRequest]) (*connect.Response[api.AdjustResponse], error)
}

// NewCollectionServiceHandler builds an HTTP handler from the service
// implementation. It returns the path on which to mount the handler and the
// handler itself.
func NewCollectionServiceHandler(svc CollectionServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = withCodec(opts)
	query := connect.NewUnaryHandler(CollectionServiceQueryProcedure, svc.Query, opts...)
	insert := connect.NewUnaryHandler(CollectionServiceInsertProcedure, svc.Insert, opts...)
	update := connect.NewUnaryHandler(CollectionServiceUpdateProcedure, svc.Update, opts...)
	del := connect.NewUnaryHandler(CollectionServiceDeleteProcedure, svc.Delete, opts...)
	adjust := connect.NewUnaryHandler(CollectionServiceAdjustProcedure, svc.Adjust, opts...)

	return "/" + CollectionServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case CollectionServiceQueryProcedure:
			query.ServeHTTP(w, r)
		case CollectionServiceInsertProcedure:
			insert.ServeHTTP(w, r)
		case CollectionServiceUpdateProcedure:
			update.ServeHTTP(w, r)
		case CollectionServiceDeleteProcedure:
			del.ServeHTTP(w, r)
		case CollectionServiceAdjustProcedure:
			adjust.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// CollectionServiceClient is a client for CollectionService.
type CollectionServiceClient interface {
	Query(context.Context, *connect.Request[api.QueryRequest]) (*connect.Response[api.QueryResponse], error)
	Insert(context.Context, *connect.Request[api.InsertRequest]) (*connect.Response[api.InsertResponse], error)
	Update(context.Context, *connect.Request[api.UpdateRequest]) (*connect.Response[api.UpdateResponse], error)
	Delete(context.Context, *connect.Request[api.DeleteRequest]) (*connect.Response[api.DeleteResponse], error)
	Adjust(context.Context, *connect.Request[api.AdjustRequest]) (*connect.Response[api.AdjustResponse], error)
}

// NewCollectionServiceClient constructs a client for CollectionService at baseURL.
func NewCollectionServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) CollectionServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{api.WithCodec()}, opts...)
	return &collectionServiceClient{
		query:  connect.NewClient[api.QueryRequest, api.QueryResponse](httpClient, baseURL+CollectionServiceQueryProcedure, opts...),
		insert: connect.NewClient[api.InsertRequest, api.InsertResponse](httpClient, baseURL+CollectionServiceInsertProcedure, opts...),
		update: connect.NewClient[api.UpdateRequest, api.UpdateResponse](httpClient, baseURL+CollectionServiceUpdateProcedure, opts...),
		del:    connect.NewClient[api.DeleteRequest, api.DeleteResponse](httpClient, baseURL+CollectionServiceDeleteProcedure, opts...),
		adjust: connect.NewClient[api.AdjustRequest, api.AdjustResponse](httpClient, baseURL+CollectionServiceAdjustProcedure, opts...),
	}
}

type collectionServiceClient struct {
	query  *connect.Client[api.QueryRequest, api.QueryResponse]
	insert *connect.Client[api.InsertRequest, api.InsertResponse]
	update *connect.Client[api.UpdateRequest, api.UpdateResponse]
	del    *connect.Client[api.DeleteRequest, api.DeleteResponse]
	adjust *connect.Client[api.AdjustRequest, api.AdjustResponse]
}

func (c *collectionServiceClient) Query(ctx context.Context, req *connect.Request[api.QueryRequest]) (*connect.Response[api.QueryResponse], error) {
	return c.query.CallUnary(ctx, req)
}

func (c *collectionServiceClient) Insert(ctx context.Context, req *connect.Request[api.InsertRequest]) (*connect.Response[api.InsertResponse], error) {
	return c.insert.CallUnary(ctx, req)
}

func (c *collectionServiceClient) Update(ctx context.Context, req *connect.Request[api.UpdateRequest]) (*connect.Response[api.UpdateResponse], error) {
	return c.update.CallUnary(ctx, req)
}

func (c *collectionServiceClient) Delete(ctx context.Context, req *connect.Request[api.DeleteRequest]) (*connect.Response[api.DeleteResponse], error) {
	return c.del.CallUnary(ctx, req)
}

func (c *collectionServiceClient) Adjust(ctx context.Context, req *connect.Request[api.AdjustRequest]) (*connect.Response[api.AdjustResponse], error) {
	return c.adjust.CallUnary(ctx, req)
}

// AuthServiceHandler is implemented by the server side of AuthService.
type AuthServiceHandler interface {
	Register(context.Context, *connect.Request[api.RegisterRequest]) (*connect.Response[api.RegisterResponse], error)
	Login(context.Context, *connect.Request[api.LoginRequest]) (*connect.Response[api.LoginResponse], error)
	Logout(context.Context, *connect.Request[api.LogoutRequest]) (*connect.Response[api.LogoutResponse], error)
	GetCurrentUser(context.Context, *connect.Request[api.GetCurrentUserRequest]) (*connect.Response[api.GetCurrentUserResponse], error)
}

// NewAuthServiceHandler builds an HTTP handler from the service implementation.
func NewAuthServiceHandler(svc AuthServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = withCodec(opts)
	register := connect.NewUnaryHandler(AuthServiceRegisterProcedure, svc.Register, opts...)
	login := connect.NewUnaryHandler(AuthServiceLoginProcedure, svc.Login, opts...)
	logout := connect.NewUnaryHandler(AuthServiceLogoutProcedure, svc.Logout, opts...)
	current := connect.NewUnaryHandler(AuthServiceGetCurrentUserProcedure, svc.GetCurrentUser, opts...)

	return "/" + AuthServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case AuthServiceRegisterProcedure:
			register.ServeHTTP(w, r)
		case AuthServiceLoginProcedure:
			login.ServeHTTP(w, r)
		case AuthServiceLogoutProcedure:
			logout.ServeHTTP(w, r)
		case AuthServiceGetCurrentUserProcedure:
			current.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// AuthServiceClient is a client for AuthService.
type AuthServiceClient interface {
	Register(context.Context, *connect.Request[api.RegisterRequest]) (*connect.Response[api.RegisterResponse], error)
	Login(context.Context, *connect.Request[api.LoginRequest]) (*connect.Response[api.LoginResponse], error)
	Logout(context.Context, *connect.Request[api.LogoutRequest]) (*connect.Response[api.LogoutResponse], error)
	GetCurrentUser(context.Context, *connect.Request[api.GetCurrentUserRequest]) (*connect.Response[api.GetCurrentUserResponse], error)
}

// NewAuthServiceClient constructs a client for AuthService at baseURL.
func NewAuthServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) AuthServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{api.WithCodec()}, opts...)
	return &authServiceClient{
		register: connect.NewClient[api.RegisterRequest, api.RegisterResponse](httpClient, baseURL+AuthServiceRegisterProcedure, opts...),
		login:    connect.NewClient[api.LoginRequest, api.LoginResponse](httpClient, baseURL+AuthServiceLoginProcedure, opts...),
		logout:   connect.NewClient[api.LogoutRequest, api.LogoutResponse](httpClient, baseURL+AuthServiceLogoutProcedure, opts...),
		current:  connect.NewClient[api.GetCurrentUserRequest, api.GetCurrentUserResponse](httpClient, baseURL+AuthServiceGetCurrentUserProcedure, opts...),
	}
}

type authServiceClient struct {
	register *connect.Client[api.RegisterRequest, api.RegisterResponse]
	login    *connect.Client[api.LoginRequest, api.LoginResponse]
	logout   *connect.Client[api.LogoutRequest, api.LogoutResponse]
	current  *connect.Client[api.GetCurrentUserRequest, api.GetCurrentUserResponse]
}

func (c *authServiceClient) Register(ctx context.Context, req *connect.Request[api.RegisterRequest]) (*connect.Response[api.RegisterResponse], error) {
	return c.register.CallUnary(ctx, req)
}

func (c *authServiceClient) Login(ctx context.Context, req *connect.Request[api.LoginRequest]) (*connect.Response[api.LoginResponse], error) {
	return c.login.CallUnary(ctx, req)
}

func (c *authServiceClient) Logout(ctx context.Context, req *connect.Request[api.LogoutRequest]) (*connect.Response[api.LogoutResponse], error) {
	return c.logout.CallUnary(ctx, req)
}

func (c *authServiceClient) GetCurrentUser(ctx context.Context, req *connect.Request[api.GetCurrentUserRequest]) (*connect.Response[api.GetCurrentUserResponse], error) {
	return c.current.CallUnary(ctx, req)
}

func withCodec(opts []connect.HandlerOption) []connect.HandlerOption {
	return append([]connect.HandlerOption{api.WithCodec()}, opts...)
}
