package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gridsynapse/placement/api"
	"github.com/gridsynapse/placement/internal/biz"
	"github.com/gridsynapse/placement/libs/xklib/kerror"
	"github.com/gridsynapse/placement/libs/xklib/klogging"
	"github.com/gridsynapse/placement/libs/xklib/kmetrics"
	"github.com/gridsynapse/placement/placementjson"
)

// maxBodyBytes bounds request bodies (a dry-run snapshot can be large)
const maxBodyBytes = 32 << 20

type Handler struct {
	app *biz.App
}

func NewHandler(app *biz.App) *Handler {
	return &Handler{app: app}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/api/ping", ErrorHandlingMiddleware(http.HandlerFunc(h.PingHandler)))
	mux.Handle("/api/state", ErrorHandlingMiddleware(http.HandlerFunc(h.StateHandler)))
	mux.Handle("/api/solve", ErrorHandlingMiddleware(http.HandlerFunc(h.SolveHandler)))
	mux.Handle("/api/config", ErrorHandlingMiddleware(http.HandlerFunc(h.ConfigHandler)))
}

func (h *Handler) PingHandler(w http.ResponseWriter, r *http.Request) {
	requireMethod(r, http.MethodGet)
	var resp api.PingResponse
	kmetrics.InstrumentSummaryRunVoid(r.Context(), "biz.Ping", func() {
		resp = h.app.Ping(r.Context())
	})
	writeJson(w, resp)
}

func (h *Handler) StateHandler(w http.ResponseWriter, r *http.Request) {
	requireMethod(r, http.MethodGet)
	var resp *api.GetStateResponse
	kmetrics.InstrumentSummaryRunVoid(r.Context(), "biz.GetState", func() {
		resp = h.app.GetState(r.Context())
	})
	klogging.Verbose(r.Context()).With("scopes", len(resp.Scopes)).Log("GetStateResponse", "")
	writeJson(w, resp)
}

// SolveHandler 处理 /api/solve: dry run, 不提交
func (h *Handler) SolveHandler(w http.ResponseWriter, r *http.Request) {
	requireMethod(r, http.MethodPost)
	req := &api.SolveRequest{}
	readJson(r, req)
	var resp *placementjson.SolveResultJson
	kmetrics.InstrumentSummaryRunVoid(r.Context(), "biz.DryRunSolve", func() {
		resp = h.app.DryRunSolve(r.Context(), req)
	})
	writeJson(w, resp)
}

// ConfigHandler: GET returns the effective config, POST applies a partial proposal.
func (h *Handler) ConfigHandler(w http.ResponseWriter, r *http.Request) {
	var resp *placementjson.PlacementConfigJson
	switch r.Method {
	case http.MethodGet:
		resp = h.app.GetConfig(r.Context())
	case http.MethodPost:
		proposal := &placementjson.PlacementConfigJson{}
		readJson(r, proposal)
		kmetrics.InstrumentSummaryRunVoid(r.Context(), "biz.ProposeConfig", func() {
			resp = h.app.ProposeConfig(r.Context(), proposal)
		})
	default:
		panic(kerror.Create("MethodNotAllowed", "only GET and POST are allowed").
			WithErrorCode(kerror.EC_INVALID_PARAMETER).
			With("method", r.Method))
	}
	writeJson(w, resp)
}

func requireMethod(r *http.Request, method string) {
	if r.Method != method {
		panic(kerror.Create("MethodNotAllowed", "only "+method+" method is allowed").
			WithErrorCode(kerror.EC_INVALID_PARAMETER).
			With("method", r.Method))
	}
}

func readJson(r *http.Request, v interface{}) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		panic(kerror.Wrap(err, "ReadBodyError", "failed to read request body", false).
			WithErrorCode(kerror.EC_INVALID_PARAMETER))
	}
	if err := json.Unmarshal(body, v); err != nil {
		panic(kerror.Wrap(err, "InvalidRequestBody", "request body is not valid json", false).
			WithErrorCode(kerror.EC_INVALID_PARAMETER))
	}
}

func writeJson(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(kerror.Create("EncodingError", "failed to encode response").
			WithErrorCode(kerror.EC_INTERNAL_ERROR).
			With("error", err.Error()))
	}
}
