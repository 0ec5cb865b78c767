package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	requestIdentifierHeaderConstant = "X-Request-ID"
	requestIdentifierPrefixConstant = "req_"
	maximumRequestIdentifierLength  = 128
	requestServedLogMessageConstant = "HTTP request served"
	methodLogFieldNameConstant      = "method"
	pathLogFieldNameConstant        = "path"
	statusLogFieldNameConstant      = "status"
	bytesLogFieldNameConstant       = "bytes"
	durationLogFieldNameConstant    = "duration"
)

// requestIdentifierMiddleware honors a caller-supplied X-Request-ID and mints one otherwise.
// The identifier is echoed in the response header and stored in the request context.
func (requestHandler *handler) requestIdentifierMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		requestIdentifier := strings.TrimSpace(request.Header.Get(requestIdentifierHeaderConstant))
		if len(requestIdentifier) == 0 || len(requestIdentifier) > maximumRequestIdentifierLength {
			requestIdentifier = requestIdentifierPrefixConstant + uuid.NewString()
		}
		responseWriter.Header().Set(requestIdentifierHeaderConstant, requestIdentifier)
		requestContext := requestHandler.contextAccessor.WithRequestIdentifier(request.Context(), requestIdentifier)
		next.ServeHTTP(responseWriter, request.WithContext(requestContext))
	})
}

func (requestHandler *handler) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		startedAt := time.Now()
		wrappedWriter := middleware.NewWrapResponseWriter(responseWriter, request.ProtoMajor)
		next.ServeHTTP(wrappedWriter, request)

		requestIdentifier, _ := requestHandler.contextAccessor.RequestIdentifier(request.Context())
		requestHandler.logger.Debug(requestServedLogMessageConstant,
			zap.String(requestIdentifierLogFieldName, requestIdentifier),
			zap.String(methodLogFieldNameConstant, request.Method),
			zap.String(pathLogFieldNameConstant, request.URL.Path),
			zap.Int(statusLogFieldNameConstant, wrappedWriter.Status()),
			zap.Int(bytesLogFieldNameConstant, wrappedWriter.BytesWritten()),
			zap.Duration(durationLogFieldNameConstant, time.Since(startedAt)),
		)
	})
}
