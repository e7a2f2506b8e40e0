package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type APIResponseCode int

const (
	APIResponseCodeOK              APIResponseCode = 0
	APIResponseCodeBadRequest      APIResponseCode = 40000
	APIResponseCodeUnauthorized    APIResponseCode = 40100
	APIResponseCodeForbidden       APIResponseCode = 40300
	APIResponseCodeNotFound        APIResponseCode = 40400
	APIResponseCodeConflict        APIResponseCode = 40900
	APIResponseCodeGone            APIResponseCode = 41000
	APIResponseCodePayloadTooLarge APIResponseCode = 41300
	APIResponseCodeTooManyRequests APIResponseCode = 42900
	APIResponseCodeError           APIResponseCode = 50000
	APIResponseCodeGatewayTimeout  APIResponseCode = 50400
)

var codeToMsg = map[APIResponseCode]string{
	APIResponseCodeOK:              "ok",
	APIResponseCodeBadRequest:      "bad request",
	APIResponseCodeUnauthorized:    "unauthorized",
	APIResponseCodeForbidden:       "forbidden",
	APIResponseCodeNotFound:        "not found",
	APIResponseCodeConflict:        "conflict",
	APIResponseCodeGone:            "gone",
	APIResponseCodePayloadTooLarge: "payload too large",
	APIResponseCodeTooManyRequests: "too many requests",
	APIResponseCodeError:           "internal error",
	APIResponseCodeGatewayTimeout:  "timeout",
}

var codeToStatus = map[APIResponseCode]int{
	APIResponseCodeOK:              http.StatusOK,
	APIResponseCodeBadRequest:      http.StatusBadRequest,
	APIResponseCodeUnauthorized:    http.StatusUnauthorized,
	APIResponseCodeForbidden:       http.StatusForbidden,
	APIResponseCodeNotFound:        http.StatusNotFound,
	APIResponseCodeConflict:        http.StatusConflict,
	APIResponseCodeGone:            http.StatusGone,
	APIResponseCodePayloadTooLarge: http.StatusRequestEntityTooLarge,
	APIResponseCodeTooManyRequests: http.StatusTooManyRequests,
	APIResponseCodeError:           http.StatusInternalServerError,
	APIResponseCodeGatewayTimeout:  http.StatusGatewayTimeout,
}

// HTTPStatus maps a response code onto its HTTP status.
func (c APIResponseCode) HTTPStatus() int {
	if s, ok := codeToStatus[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// APIResponse is the generic response envelope used by HTTP APIs.
// Use OKT / ErrorT helpers to construct instances.
type APIResponse[T any] struct {
	Code    APIResponseCode `json:"code"`
	Message string          `json:"message"`
	Error   string          `json:"error,omitempty"`
	Data    T               `json:"data"`
}

// OKT returns a successful response with data.
func OKT[T any](data T) *APIResponse[T] {
	return &APIResponse[T]{Code: APIResponseCodeOK, Message: codeToMsg[APIResponseCodeOK], Data: data}
}

// ErrorT returns an error response with a client-facing error text and optional data.
func ErrorT[T any](code APIResponseCode, errText string, data T) *APIResponse[T] {
	return &APIResponse[T]{Code: code, Message: codeToMsg[code], Error: errText, Data: data}
}

// Abort writes an error envelope with the status matching code and stops the chain.
func Abort(c *gin.Context, code APIResponseCode, errText string) {
	c.AbortWithStatusJSON(code.HTTPStatus(), ErrorT[any](code, errText, nil))
}

// AbortWithData is Abort with a payload, e.g. the existing request on a conflict.
func AbortWithData[T any](c *gin.Context, code APIResponseCode, errText string, data T) {
	c.AbortWithStatusJSON(code.HTTPStatus(), ErrorT(code, errText, data))
}

// OK writes a 200 envelope.
func OK[T any](c *gin.Context, data T) {
	c.JSON(http.StatusOK, OKT(data))
}
