package service

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-kit/kit/endpoint"

	"github.com/vriskhq/vrisk/server/vrisk"
)

////////////////////////////////////////////////////////////////////////////////
// GET /api/settings

type getSettingsResponse struct {
	Settings map[string]string `json:"settings"`
	Err      error             `json:"-"`
}

func (r getSettingsResponse) error() error { return r.Err }

func makeGetSettingsEndpoint(svc vrisk.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		settings, err := svc.Settings(ctx)
		if err != nil {
			return getSettingsResponse{Err: err}, nil
		}
		return getSettingsResponse{Settings: settings}, nil
	}
}

////////////////////////////////////////////////////////////////////////////////
// PUT /api/settings

type updateSettingsRequest struct {
	Settings map[string]string `json:"settings"`
}

type updateSettingsResponse struct {
	Success bool        `json:"success"`
	Task    *vrisk.Task `json:"task,omitempty"`
	Err     error       `json:"-"`
}

func (r updateSettingsResponse) error() error { return r.Err }

func makeUpdateSettingsEndpoint(svc vrisk.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(updateSettingsRequest)
		task, err := svc.UpdateSettings(ctx, req.Settings)
		if err != nil {
			return updateSettingsResponse{Err: err}, nil
		}
		return updateSettingsResponse{Success: true, Task: task}, nil
	}
}

////////////////////////////////////////////////////////////////////////////////
// POST /api/risk/recompute

func makeRiskRecomputeEndpoint(svc vrisk.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		task, err := svc.EnqueueRiskRecompute(ctx)
		if err != nil {
			return taskResponse{Err: err}, nil
		}
		return taskResponse{Success: true, Task: task}, nil
	}
}

func decodeUpdateSettingsRequest(ctx context.Context, r *http.Request) (interface{}, error) {
	var req updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, &vrisk.InvalidArgumentError{Name: "body", Reason: "invalid JSON"}
	}
	if len(req.Settings) == 0 {
		return nil, &vrisk.InvalidArgumentError{Name: "settings", Reason: "must not be empty"}
	}
	return req, nil
}
