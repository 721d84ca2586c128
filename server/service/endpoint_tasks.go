package service

import (
	"context"
	"net/http"

	"github.com/go-kit/kit/endpoint"

	"github.com/vriskhq/vrisk/server/vrisk"
)

////////////////////////////////////////////////////////////////////////////////
// GET /api/tasks/{id}

type getTaskRequest struct {
	ID uint
}

type getTaskResponse struct {
	Task *vrisk.Task `json:"task,omitempty"`
	Err  error       `json:"-"`
}

func (r getTaskResponse) error() error { return r.Err }

func makeGetTaskEndpoint(svc vrisk.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(getTaskRequest)
		task, err := svc.Task(ctx, req.ID)
		if err != nil {
			return getTaskResponse{Err: err}, nil
		}
		return getTaskResponse{Task: task}, nil
	}
}

func decodeGetTaskRequest(ctx context.Context, r *http.Request) (interface{}, error) {
	id, err := idFromRequest(r, "id")
	if err != nil {
		return nil, err
	}
	return getTaskRequest{ID: id}, nil
}

////////////////////////////////////////////////////////////////////////////////
// GET /api/tasks/active

type listActiveTasksResponse struct {
	Tasks []*vrisk.Task `json:"tasks"`
	Err   error         `json:"-"`
}

func (r listActiveTasksResponse) error() error { return r.Err }

func makeListActiveTasksEndpoint(svc vrisk.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		tasks, err := svc.ListActiveTasks(ctx)
		if err != nil {
			return listActiveTasksResponse{Err: err}, nil
		}
		if tasks == nil {
			tasks = []*vrisk.Task{}
		}
		return listActiveTasksResponse{Tasks: tasks}, nil
	}
}

////////////////////////////////////////////////////////////////////////////////
// POST /api/tasks/{id}/cancel

type cancelTaskRequest struct {
	ID uint
}

type cancelTaskResponse struct {
	Success bool  `json:"success"`
	Err     error `json:"-"`
}

func (r cancelTaskResponse) error() error { return r.Err }

func makeCancelTaskEndpoint(svc vrisk.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(cancelTaskRequest)
		if err := svc.CancelTask(ctx, req.ID); err != nil {
			return cancelTaskResponse{Err: err}, nil
		}
		return cancelTaskResponse{Success: true}, nil
	}
}

func decodeCancelTaskRequest(ctx context.Context, r *http.Request) (interface{}, error) {
	id, err := idFromRequest(r, "id")
	if err != nil {
		return nil, err
	}
	return cancelTaskRequest{ID: id}, nil
}

func decodeNothing(ctx context.Context, r *http.Request) (interface{}, error) {
	return nil, nil
}
