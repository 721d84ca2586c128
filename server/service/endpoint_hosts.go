package service

import (
	"context"
	"net/http"

	"github.com/go-kit/kit/endpoint"

	"github.com/vriskhq/vrisk/server/vrisk"
)

////////////////////////////////////////////////////////////////////////////////
// GET /api/hosts

type listHostsRequest struct {
	Filter vrisk.HostListFilter
	Opts   vrisk.ListOptions
}

type listHostsResponse struct {
	Hosts []vrisk.Host `json:"hosts"`
	Count int          `json:"count"`
	Err   error        `json:"-"`
}

func (r listHostsResponse) error() error { return r.Err }

func makeListHostsEndpoint(svc vrisk.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(listHostsRequest)

		hosts, err := svc.ListHosts(ctx, req.Filter, req.Opts)
		if err != nil {
			return listHostsResponse{Err: err}, nil
		}
		count, err := svc.CountHosts(ctx, req.Filter)
		if err != nil {
			return listHostsResponse{Err: err}, nil
		}
		if hosts == nil {
			hosts = []vrisk.Host{}
		}
		return listHostsResponse{Hosts: hosts, Count: count}, nil
	}
}

func decodeListHostsRequest(ctx context.Context, r *http.Request) (interface{}, error) {
	filter, err := hostFilterFromRequest(r)
	if err != nil {
		return nil, err
	}
	opts, err := listOptionsFromRequest(r)
	if err != nil {
		return nil, err
	}
	return listHostsRequest{Filter: filter, Opts: opts}, nil
}

////////////////////////////////////////////////////////////////////////////////
// GET /api/hosts/export
//
// The CSV export bypasses the go-kit JSON plumbing and streams directly.

func exportHostsHandler(svc vrisk.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := hostFilterFromRequest(r)
		if err != nil {
			encodeError(r.Context(), err, w)
			return
		}

		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="hosts.csv"`)
		if err := svc.ExportHostsCSV(r.Context(), w, filter); err != nil {
			// headers are gone at this point, the best we can do is
			// truncate the stream
			return
		}
	}
}
