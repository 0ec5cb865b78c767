package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/temirov/freightaudit/internal/engine"
	"github.com/temirov/freightaudit/internal/utils"
)

const (
	healthPathConstant               = "/healthz"
	evaluatorRequiredMessageConstant = "an evaluator is required"
	evaluateBatchPathConstant        = "/v1/evaluate"
	evaluateItemPathConstant         = "/v1/evaluate/item"
	contentTypeHeaderConstant        = "Content-Type"
	jsonContentTypeConstant          = "application/json"
	healthStatusOKConstant           = "ok"
	errorCodeBadRequestConstant      = "BAD_REQUEST"
	errorCodeValidationConstant      = "VALIDATION_FAILED"
	errorCodeTooManyItemsConstant    = "TOO_MANY_ITEMS"
	errorCodePayloadTooLargeConstant = "PAYLOAD_TOO_LARGE"
	tooManyItemsTemplateConstant     = "request carries %d items; the limit is %d"
	validationFailedTemplate         = "field %s failed %q validation"
	defaultMaximumBodyBytesConstant  = 16 << 20
	batchEvaluatedLogMessageConstant = "Evaluation request served"
	responseWriteLogMessageConstant  = "Failed to write response"
	requestIdentifierLogFieldName    = "request_id"
	itemCountLogFieldNameConstant    = "items"
	worstStatusLogFieldNameConstant  = "worst_status"
)

var payloadValidator = validator.New()

// Evaluator is the part of the engine the HTTP surface calls.
type Evaluator interface {
	Evaluate(executionContext context.Context, item engine.LineItem) engine.ValidationResult
	EvaluateBatch(executionContext context.Context, items []engine.LineItem) []engine.ValidationResult
}

// Settings bounds the requests the handler accepts.
type Settings struct {
	MaximumItems         int
	MaximumBodyBytes     int64
	CriticalFailureCount int
}

// BatchRequest is the body of POST /v1/evaluate.
type BatchRequest struct {
	Items []engine.LineItem `json:"items" validate:"required,min=1,dive"`
}

// ItemRequest is the body of POST /v1/evaluate/item.
type ItemRequest struct {
	Item engine.LineItem `json:"item"`
}

// BatchResponse carries one verdict per submitted item, in submission order.
type BatchResponse struct {
	RequestID   string                    `json:"request_id"`
	WorstStatus engine.Status             `json:"worst_status"`
	Summary     engine.BatchSummary       `json:"summary"`
	Results     []engine.ValidationResult `json:"results"`
}

// ItemResponse carries the verdict of a single item.
type ItemResponse struct {
	RequestID string                  `json:"request_id"`
	Result    engine.ValidationResult `json:"result"`
}

// ErrorDetail describes why a request was rejected.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	RequestID string      `json:"request_id"`
	Error     ErrorDetail `json:"error"`
}

type handler struct {
	evaluator       Evaluator
	settings        Settings
	logger          *zap.Logger
	contextAccessor utils.ContextAccessor
}

// NewRouter builds the chi router serving the health probe and the evaluation endpoints.
func NewRouter(evaluator Evaluator, settings Settings, logger *zap.Logger) (http.Handler, error) {
	if evaluator == nil {
		return nil, errors.New(evaluatorRequiredMessageConstant)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.MaximumBodyBytes <= 0 {
		settings.MaximumBodyBytes = defaultMaximumBodyBytesConstant
	}

	requestHandler := &handler{
		evaluator:       evaluator,
		settings:        settings,
		logger:          logger,
		contextAccessor: utils.NewContextAccessor(),
	}

	router := chi.NewRouter()
	router.Use(requestHandler.requestIdentifierMiddleware)
	router.Use(requestHandler.accessLogMiddleware)
	router.Use(middleware.Recoverer)
	router.Get(healthPathConstant, requestHandler.handleHealth)
	router.Post(evaluateBatchPathConstant, requestHandler.handleEvaluateBatch)
	router.Post(evaluateItemPathConstant, requestHandler.handleEvaluateItem)
	return router, nil
}

func (requestHandler *handler) handleHealth(responseWriter http.ResponseWriter, _ *http.Request) {
	requestHandler.writeJSON(responseWriter, http.StatusOK, map[string]string{"status": healthStatusOKConstant})
}

func (requestHandler *handler) handleEvaluateBatch(responseWriter http.ResponseWriter, request *http.Request) {
	requestIdentifier, _ := requestHandler.contextAccessor.RequestIdentifier(request.Context())

	var batchRequest BatchRequest
	if !requestHandler.decode(responseWriter, request, &batchRequest) {
		return
	}
	if requestHandler.settings.MaximumItems > 0 && len(batchRequest.Items) > requestHandler.settings.MaximumItems {
		requestHandler.writeError(responseWriter, request, http.StatusRequestEntityTooLarge, errorCodeTooManyItemsConstant,
			fmt.Sprintf(tooManyItemsTemplateConstant, len(batchRequest.Items), requestHandler.settings.MaximumItems))
		return
	}
	if !requestHandler.validate(responseWriter, request, batchRequest) {
		return
	}

	results := requestHandler.evaluator.EvaluateBatch(request.Context(), batchRequest.Items)
	summary := engine.Summarize(results)
	response := BatchResponse{
		RequestID:   requestIdentifier,
		WorstStatus: summary.WorstStatus(requestHandler.settings.CriticalFailureCount),
		Summary:     summary,
		Results:     results,
	}
	requestHandler.logger.Info(batchEvaluatedLogMessageConstant,
		zap.String(requestIdentifierLogFieldName, requestIdentifier),
		zap.Int(itemCountLogFieldNameConstant, len(results)),
		zap.String(worstStatusLogFieldNameConstant, string(response.WorstStatus)),
	)
	requestHandler.writeJSON(responseWriter, http.StatusOK, response)
}

func (requestHandler *handler) handleEvaluateItem(responseWriter http.ResponseWriter, request *http.Request) {
	requestIdentifier, _ := requestHandler.contextAccessor.RequestIdentifier(request.Context())

	var itemRequest ItemRequest
	if !requestHandler.decode(responseWriter, request, &itemRequest) {
		return
	}
	if !requestHandler.validate(responseWriter, request, itemRequest.Item) {
		return
	}

	result := requestHandler.evaluator.Evaluate(request.Context(), itemRequest.Item)
	requestHandler.writeJSON(responseWriter, http.StatusOK, ItemResponse{RequestID: requestIdentifier, Result: result})
}

func (requestHandler *handler) decode(responseWriter http.ResponseWriter, request *http.Request, target any) bool {
	request.Body = http.MaxBytesReader(responseWriter, request.Body, requestHandler.settings.MaximumBodyBytes)
	decoder := json.NewDecoder(request.Body)
	decoder.DisallowUnknownFields()
	if decodeError := decoder.Decode(target); decodeError != nil {
		var maximumBytesError *http.MaxBytesError
		if errors.As(decodeError, &maximumBytesError) {
			requestHandler.writeError(responseWriter, request, http.StatusRequestEntityTooLarge, errorCodePayloadTooLargeConstant, decodeError.Error())
			return false
		}
		requestHandler.writeError(responseWriter, request, http.StatusBadRequest, errorCodeBadRequestConstant, decodeError.Error())
		return false
	}
	return true
}

func (requestHandler *handler) validate(responseWriter http.ResponseWriter, request *http.Request, payload any) bool {
	validationError := payloadValidator.Struct(payload)
	if validationError == nil {
		return true
	}
	message := validationError.Error()
	var fieldErrors validator.ValidationErrors
	if errors.As(validationError, &fieldErrors) && len(fieldErrors) > 0 {
		message = fmt.Sprintf(validationFailedTemplate, fieldErrors[0].Namespace(), fieldErrors[0].Tag())
	}
	requestHandler.writeError(responseWriter, request, http.StatusUnprocessableEntity, errorCodeValidationConstant, message)
	return false
}

func (requestHandler *handler) writeError(responseWriter http.ResponseWriter, request *http.Request, status int, code string, message string) {
	requestIdentifier, _ := requestHandler.contextAccessor.RequestIdentifier(request.Context())
	requestHandler.writeJSON(responseWriter, status, ErrorResponse{
		RequestID: requestIdentifier,
		Error:     ErrorDetail{Code: code, Message: message},
	})
}

func (requestHandler *handler) writeJSON(responseWriter http.ResponseWriter, status int, payload any) {
	responseWriter.Header().Set(contentTypeHeaderConstant, jsonContentTypeConstant)
	responseWriter.WriteHeader(status)
	if encodeError := json.NewEncoder(responseWriter).Encode(payload); encodeError != nil {
		requestHandler.logger.Warn(responseWriteLogMessageConstant, zap.Error(encodeError))
	}
}
