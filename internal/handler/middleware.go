package handler

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/gridsynapse/placement/libs/xklib/kcommon"
	"github.com/gridsynapse/placement/libs/xklib/kerror"
	"github.com/gridsynapse/placement/libs/xklib/klogging"
)

const requestIdHeader = "X-Request-Id"

type errorBody struct {
	Error     string           `json:"error"`
	Msg       string           `json:"msg"`
	Code      kerror.ErrorCode `json:"code"`
	RequestId string           `json:"request_id"`
}

// ErrorHandlingMiddleware 捕获 panic, 按 kerror 的 ErrorCode 返回 HTTP 状态码.
// Every request gets a trace id (the caller's X-Request-Id, or a fresh one) in its log ctx and response.
func ErrorHandlingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestId := r.Header.Get(requestIdHeader)
		if requestId == "" {
			requestId = uuid.New().String()[:8]
		}
		ctx := klogging.EmbedTraceId(r.Context(), requestId)
		r = r.WithContext(ctx)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(requestIdHeader, requestId)

		startMs := kcommon.GetMonoTimeMs()
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			ke, cause := panicToKerror(v)
			klogging.Error(ctx).
				WithError(cause).
				With("method", r.Method).
				With("path", r.URL.Path).
				With("elapsedMs", kcommon.GetMonoTimeMs()-startMs).
				Log("PanicRecovered", ke.Type)

			w.WriteHeader(ke.GetHttpErrorCode())
			json.NewEncoder(w).Encode(&errorBody{Error: ke.Type, Msg: ke.Msg, Code: ke.ErrorCode, RequestId: requestId})
		}()

		next.ServeHTTP(w, r)
	})
}

// panicToKerror returns what the client sees and what gets logged. The raw message of a plain
// error stays in the log.
func panicToKerror(v interface{}) (*kerror.Kerror, error) {
	switch e := v.(type) {
	case *kerror.Kerror:
		return e, e
	case error:
		return kerror.Create("InternalServerError", "an unexpected error occurred").WithErrorCode(kerror.EC_UNKNOWN), e
	default:
		ke := kerror.Create("UnknownPanic", "unexpected panic with non-error value").
			WithErrorCode(kerror.EC_UNKNOWN).
			With("panic_value", v)
		return ke, ke
	}
}
