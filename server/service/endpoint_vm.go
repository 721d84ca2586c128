package service

import (
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"

	"github.com/go-kit/kit/endpoint"

	"github.com/vriskhq/vrisk/server/vrisk"
)

// taskResponse is the shared response of the enqueue endpoints: 202 with
// the created task.
type taskResponse struct {
	Success bool        `json:"success"`
	Task    *vrisk.Task `json:"task,omitempty"`
	Err     error       `json:"-"`
}

func (r taskResponse) error() error { return r.Err }

func (r taskResponse) status() int { return http.StatusAccepted }

////////////////////////////////////////////////////////////////////////////////
// POST /api/vm/import

func makeVMImportEndpoint(svc vrisk.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		task, err := svc.EnqueueVMImport(ctx)
		if err != nil {
			return taskResponse{Err: err}, nil
		}
		return taskResponse{Success: true, Task: task}, nil
	}
}

////////////////////////////////////////////////////////////////////////////////
// POST /api/vm/manual-import

type vmManualImportRequest struct {
	Filters vrisk.ManualImportFilters
}

func makeVMManualImportEndpoint(svc vrisk.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(vmManualImportRequest)
		task, err := svc.EnqueueVMManualImport(ctx, req.Filters)
		if err != nil {
			return taskResponse{Err: err}, nil
		}
		return taskResponse{Success: true, Task: task}, nil
	}
}

func decodeVMManualImportRequest(ctx context.Context, r *http.Request) (interface{}, error) {
	var req vmManualImportRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req.Filters); err != nil {
			return nil, &vrisk.InvalidArgumentError{Name: "body", Reason: "invalid JSON"}
		}
	}
	return req, nil
}

////////////////////////////////////////////////////////////////////////////////
// POST /api/hosts/upload

type uploadHostsRequest struct {
	Name string
	File multipart.File
}

func makeUploadHostsEndpoint(svc vrisk.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(uploadHostsRequest)
		defer req.File.Close()

		task, err := svc.EnqueueHostsImport(ctx, req.Name, req.File)
		if err != nil {
			return taskResponse{Err: err}, nil
		}
		return taskResponse{Success: true, Task: task}, nil
	}
}

func decodeUploadHostsRequest(ctx context.Context, r *http.Request) (interface{}, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return nil, &vrisk.InvalidArgumentError{Name: "file", Reason: "expected a multipart upload"}
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, &vrisk.InvalidArgumentError{Name: "file", Reason: "missing upload field"}
	}
	return uploadHostsRequest{Name: header.Filename, File: file}, nil
}
