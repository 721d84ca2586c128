package service

import (
	"context"
	"net/http"

	"github.com/go-kit/kit/endpoint"
	kithttp "github.com/go-kit/kit/transport/http"
	kitlog "github.com/go-kit/log"
	"github.com/gorilla/mux"

	"github.com/vriskhq/vrisk/server/vrisk"
)

// MakeHandler creates the HTTP handler for the vrisk API.
func MakeHandler(svc vrisk.Service, logger kitlog.Logger) http.Handler {
	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(encodeError),
		kithttp.ServerErrorHandler(&errorHandler{logger: logger}),
	}

	newServer := func(e endpoint.Endpoint, decode kithttp.DecodeRequestFunc) http.Handler {
		return kithttp.NewServer(e, decode, encodeResponse, opts...)
	}

	r := mux.NewRouter()

	r.Handle("/api/archive/upload", newServer(makeUploadArchiveEndpoint(svc), decodeUploadArchiveRequest)).Methods("POST")
	r.Handle("/api/archive/status", newServer(makeArchiveStatusEndpoint(svc), decodeNothing)).Methods("GET")

	r.Handle("/api/metasploit/download", newServer(makeMetasploitDownloadEndpoint(svc), decodeNothing)).Methods("POST")
	r.Handle("/api/metasploit/status", newServer(makeMetasploitStatusEndpoint(svc), decodeNothing)).Methods("GET")

	r.Handle("/api/vm/import", newServer(makeVMImportEndpoint(svc), decodeNothing)).Methods("POST")
	r.Handle("/api/vm/manual-import", newServer(makeVMManualImportEndpoint(svc), decodeVMManualImportRequest)).Methods("POST")

	r.Handle("/api/hosts/upload", newServer(makeUploadHostsEndpoint(svc), decodeUploadHostsRequest)).Methods("POST")
	r.Handle("/api/hosts/export", exportHostsHandler(svc)).Methods("GET")
	r.Handle("/api/hosts", newServer(makeListHostsEndpoint(svc), decodeListHostsRequest)).Methods("GET")

	r.Handle("/api/tasks/active", newServer(makeListActiveTasksEndpoint(svc), decodeNothing)).Methods("GET")
	r.Handle("/api/tasks/{id:[0-9]+}", newServer(makeGetTaskEndpoint(svc), decodeGetTaskRequest)).Methods("GET")
	r.Handle("/api/tasks/{id:[0-9]+}/cancel", newServer(makeCancelTaskEndpoint(svc), decodeCancelTaskRequest)).Methods("POST")

	r.Handle("/api/risk/recompute", newServer(makeRiskRecomputeEndpoint(svc), decodeNothing)).Methods("POST")

	r.Handle("/api/settings", newServer(makeGetSettingsEndpoint(svc), decodeNothing)).Methods("GET")
	r.Handle("/api/settings", newServer(makeUpdateSettingsEndpoint(svc), decodeUpdateSettingsRequest)).Methods("PUT")

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("GET", "HEAD")

	return r
}

type errorHandler struct {
	logger kitlog.Logger
}

func (h *errorHandler) Handle(ctx context.Context, err error) {
	h.logger.Log("err", err)
}
