// Package service exposes the core over Connect RPC. Messages are plain structs
// carried as JSON; procedures are named /splitledger.v1.<Service>/<Method>.
package service

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
)

const (
	AuthServiceName     = "splitledger.v1.AuthService"
	AccountServiceName  = "splitledger.v1.AccountService"
	GroupServiceName    = "splitledger.v1.GroupService"
	ExpenseServiceName  = "splitledger.v1.ExpenseService"
	ActivityServiceName = "splitledger.v1.ActivityService"
)

// Procedure returns the path of method on service.
func Procedure(service, method string) string {
	return "/" + service + "/" + method
}

// Route is one mounted procedure.
type Route struct {
	Procedure string
	Handler   http.Handler
}

func unary[Req, Res any](service, method string, fn func(context.Context, *connect.Request[Req]) (*connect.Response[Res], error), opts []connect.HandlerOption) Route {
	procedure := Procedure(service, method)
	opts = append([]connect.HandlerOption{connect.WithCodec(Codec)}, opts...)
	return Route{Procedure: procedure, Handler: connect.NewUnaryHandler(procedure, fn, opts...)}
}

// Mux is the subset of a router Mount needs; chi.Router and *http.ServeMux satisfy it.
type Mux interface {
	Handle(pattern string, handler http.Handler)
}

// Mount registers routes on mux.
func Mount(mux Mux, routes ...[]Route) {
	for _, group := range routes {
		for _, r := range group {
			mux.Handle(r.Procedure, r.Handler)
		}
	}
}
