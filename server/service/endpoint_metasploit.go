package service

import (
	"context"

	"github.com/go-kit/kit/endpoint"

	"github.com/vriskhq/vrisk/server/vrisk"
)

////////////////////////////////////////////////////////////////////////////////
// POST /api/metasploit/download

func makeMetasploitDownloadEndpoint(svc vrisk.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		task, err := svc.EnqueueMetasploitDownload(ctx)
		if err != nil {
			return taskResponse{Err: err}, nil
		}
		return taskResponse{Success: true, Task: task}, nil
	}
}

////////////////////////////////////////////////////////////////////////////////
// GET /api/metasploit/status

type metasploitStatusResponse struct {
	*vrisk.MetasploitStatus
	Err error `json:"-"`
}

func (r metasploitStatusResponse) error() error { return r.Err }

func makeMetasploitStatusEndpoint(svc vrisk.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		status, err := svc.MetasploitStatus(ctx)
		if err != nil {
			return metasploitStatusResponse{Err: err}, nil
		}
		return metasploitStatusResponse{MetasploitStatus: status}, nil
	}
}
