package service

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/vriskhq/vrisk/server/contexts/ctxerr"
	"github.com/vriskhq/vrisk/server/ptr"
	"github.com/vriskhq/vrisk/server/vrisk"
)

// errorer is implemented by response structs that carry a business logic
// error; the encoder routes those through encodeError.
type errorer interface {
	error() error
}

func encodeResponse(ctx context.Context, w http.ResponseWriter, response interface{}) error {
	if e, ok := response.(errorer); ok && e.error() != nil {
		encodeError(ctx, e.error(), w)
		return nil
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if s, ok := response.(statuser); ok {
		w.WriteHeader(s.status())
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(response)
}

// statuser lets a response struct pick a non-200 success status.
type statuser interface {
	status() int
}

type jsonError struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// encodeError maps business errors to status codes: single-flight
// conflicts to 409, missing entities to 404, validation failures to 422,
// everything else to 500.
func encodeError(ctx context.Context, err error, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	cause := ctxerr.Cause(err)
	switch {
	case vrisk.IsConflict(cause):
		w.WriteHeader(http.StatusConflict)
		enc.Encode(jsonError{Message: "already running", Detail: cause.Error()}) //nolint:errcheck
	case vrisk.IsNotFound(cause):
		w.WriteHeader(http.StatusNotFound)
		enc.Encode(jsonError{Detail: cause.Error()}) //nolint:errcheck
	case vrisk.IsInvalidArgument(cause):
		w.WriteHeader(http.StatusUnprocessableEntity)
		enc.Encode(jsonError{Detail: cause.Error()}) //nolint:errcheck
	default:
		w.WriteHeader(http.StatusInternalServerError)
		enc.Encode(jsonError{Detail: err.Error()}) //nolint:errcheck
	}
}

func idFromRequest(r *http.Request, name string) (uint, error) {
	s, ok := mux.Vars(r)[name]
	if !ok {
		return 0, &vrisk.InvalidArgumentError{Name: name, Reason: "missing from route"}
	}
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, &vrisk.InvalidArgumentError{Name: name, Reason: "must be an integer"}
	}
	return uint(id), nil
}

// listOptionsFromRequest parses order and paging query parameters.
func listOptionsFromRequest(r *http.Request) (vrisk.ListOptions, error) {
	var opts vrisk.ListOptions
	q := r.URL.Query()

	if s := q.Get("page"); s != "" {
		page, err := strconv.Atoi(s)
		if err != nil || page < 0 {
			return opts, &vrisk.InvalidArgumentError{Name: "page", Reason: "must be a non-negative integer"}
		}
		opts.Page = uint(page)
	}
	if s := q.Get("per_page"); s != "" {
		perPage, err := strconv.Atoi(s)
		if err != nil || perPage <= 0 {
			return opts, &vrisk.InvalidArgumentError{Name: "per_page", Reason: "must be a positive integer"}
		}
		opts.PerPage = uint(perPage)
	}
	opts.OrderKey = q.Get("order_key")
	switch q.Get("order_direction") {
	case "", "asc":
	case "desc":
		opts.OrderDescending = true
	default:
		return opts, &vrisk.InvalidArgumentError{Name: "order_direction", Reason: "must be asc or desc"}
	}
	return opts, nil
}

// hostFilterFromRequest parses the host list/export filter parameters.
func hostFilterFromRequest(r *http.Request) (vrisk.HostListFilter, error) {
	var filter vrisk.HostListFilter
	q := r.URL.Query()

	filter.Hostname = q.Get("hostname")
	filter.CVE = q.Get("cve")
	filter.Zone = q.Get("zone")
	filter.OSName = q.Get("os_name")
	if s := q.Get("criticality"); s != "" {
		c := vrisk.Criticality(s)
		if !vrisk.ValidCriticality(c) {
			return filter, &vrisk.InvalidArgumentError{Name: "criticality", Reason: "unknown level"}
		}
		filter.Criticality = c
	}
	if s := q.Get("min_risk"); s != "" {
		minRisk, err := strconv.Atoi(s)
		if err != nil || minRisk < 0 || minRisk > 100 {
			return filter, &vrisk.InvalidArgumentError{Name: "min_risk", Reason: "must be an integer in [0,100]"}
		}
		filter.MinRisk = ptr.Int(minRisk)
	}
	return filter, nil
}
