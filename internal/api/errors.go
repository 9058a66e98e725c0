package api

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"simbroker/internal/domain"
	"simbroker/internal/validate"
)

// Error codes carried in REST error bodies.
const (
	CodeValidation = "validation"
	CodeNotFound   = "not_found"
	CodeConflict   = "conflict"
	CodeInternal   = "internal"
)

// ErrorBody is the JSON body of every non-2xx REST response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

// classify maps err onto the shared error taxonomy.
func classify(err error) ErrorBody {
	var verr *validate.ValidationError
	switch {
	case errors.As(err, &verr):
		return ErrorBody{Error: verr.Reason, Code: CodeValidation, Field: verr.Field}
	case errors.Is(err, domain.ErrOrderNotFound):
		return ErrorBody{Error: err.Error(), Code: CodeNotFound}
	case errors.Is(err, domain.ErrStatusConflict):
		return ErrorBody{Error: err.Error(), Code: CodeConflict}
	}
	return ErrorBody{Error: err.Error(), Code: CodeInternal}
}

func httpStatus(code string) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func grpcCode(code string) codes.Code {
	switch code {
	case CodeValidation:
		return codes.InvalidArgument
	case CodeNotFound:
		return codes.NotFound
	case CodeConflict:
		return codes.FailedPrecondition
	}
	return codes.Internal
}
