package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"lovelore/narrative"
	"lovelore/provider"
	"lovelore/store"
	"lovelore/story"
	"lovelore/stream"
)

const maxBodyBytes = 1 << 20

// errorBody is the JSON error envelope of every failed request.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Status: status, Message: msg}})
}

// classify maps an error to the HTTP status and envelope it is reported with.
func classify(err error) (int, errorDetail) {
	var up *provider.UpstreamError
	var se *stream.StreamError
	var te *stream.TransportError
	switch {
	case errors.As(err, &up):
		status := http.StatusBadGateway
		if up.StatusCode == http.StatusTooManyRequests {
			status = http.StatusTooManyRequests
		}
		return status, errorDetail{Kind: "upstream", Status: up.StatusCode, Message: up.Error()}
	case errors.As(err, &se):
		return http.StatusBadGateway, errorDetail{Kind: "upstream", Status: http.StatusBadGateway, Message: se.Error()}
	case errors.As(err, &te):
		return http.StatusBadGateway, errorDetail{Kind: "transport", Status: http.StatusBadGateway, Message: te.Error()}
	case errors.Is(err, narrative.ErrEmptyNarration):
		return http.StatusBadGateway, errorDetail{Kind: "upstream", Status: http.StatusBadGateway, Message: err.Error()}
	case errors.Is(err, narrative.ErrDuplicateTurn):
		return http.StatusConflict, errorDetail{Kind: "duplicate", Status: http.StatusConflict, Message: err.Error()}
	case errors.Is(err, narrative.ErrEmptyPrompt):
		return http.StatusBadRequest, errorDetail{Kind: "invalid", Status: http.StatusBadRequest, Message: err.Error()}
	case errors.Is(err, story.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, errorDetail{Kind: "not_found", Status: http.StatusNotFound, Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorDetail{Kind: "timeout", Status: http.StatusGatewayTimeout, Message: err.Error()}
	default:
		return http.StatusInternalServerError, errorDetail{Kind: "internal", Status: http.StatusInternalServerError, Message: "internal server error"}
	}
}

func writeErr(w http.ResponseWriter, err error) {
	status, detail := classify(err)
	writeJSON(w, status, errorBody{Error: detail})
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Use JSON tag names in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "invalid JSON body: "+err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must have at least %s entries", field, fe.Param()))
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}
