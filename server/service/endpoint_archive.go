package service

import (
	"context"
	"mime/multipart"
	"net/http"

	"github.com/go-kit/kit/endpoint"

	"github.com/vriskhq/vrisk/server/vrisk"
)

// maxUploadMemory bounds the in-memory part of parsed multipart uploads;
// larger files spill to disk.
const maxUploadMemory = 32 << 20

////////////////////////////////////////////////////////////////////////////////
// POST /api/archive/upload

type uploadArchiveRequest struct {
	Name string
	File multipart.File
	Size int64
}

type uploadArchiveResponse struct {
	*vrisk.ArchiveImportResult
	Err error `json:"-"`
}

func (r uploadArchiveResponse) error() error { return r.Err }

func makeUploadArchiveEndpoint(svc vrisk.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(uploadArchiveRequest)
		defer req.File.Close()

		res, err := svc.ImportArchive(ctx, req.Name, req.File, req.Size)
		if err != nil {
			return uploadArchiveResponse{Err: err}, nil
		}
		return uploadArchiveResponse{ArchiveImportResult: res}, nil
	}
}

func decodeUploadArchiveRequest(ctx context.Context, r *http.Request) (interface{}, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return nil, &vrisk.InvalidArgumentError{Name: "file", Reason: "expected a multipart upload"}
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, &vrisk.InvalidArgumentError{Name: "file", Reason: "missing upload field"}
	}
	return uploadArchiveRequest{
		Name: header.Filename,
		File: file,
		Size: header.Size,
	}, nil
}

////////////////////////////////////////////////////////////////////////////////
// GET /api/archive/status

// archiveDatabases is the documented response shape: the four feed tables
// only, host counts are not part of the archive surface.
type archiveDatabases struct {
	EPSS       int `json:"epss"`
	ExploitDB  int `json:"exploitdb"`
	CVE        int `json:"cve"`
	Metasploit int `json:"metasploit"`
}

type archiveStatusResponse struct {
	Databases archiveDatabases `json:"databases"`
	Total     int              `json:"total"`
	Err       error            `json:"-"`
}

func (r archiveStatusResponse) error() error { return r.Err }

func makeArchiveStatusEndpoint(svc vrisk.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		counts, err := svc.ArchiveStatus(ctx)
		if err != nil {
			return archiveStatusResponse{Err: err}, nil
		}
		return archiveStatusResponse{
			Databases: archiveDatabases{
				EPSS:       counts.EPSS,
				ExploitDB:  counts.ExploitDB,
				CVE:        counts.CVE,
				Metasploit: counts.Metasploit,
			},
			Total: counts.Total(),
		}, nil
	}
}
