package graphql

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind classifies a failed GraphQL operation.
type Kind string

const (
	KindNetwork         Kind = "network"
	KindBadUserInput    Kind = "bad_user_input"
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindInternal        Kind = "internal"
)

// GQLError is one entry of a GraphQL response's "errors" array.
type GQLError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Code returns extensions.code, or "" when the server did not set one.
func (e GQLError) Code() string {
	if code, ok := e.Extensions["code"].(string); ok {
		return code
	}
	return ""
}

// Error is the typed error returned by every transport in this package.
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Errors []GQLError
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if len(e.Errors) > 0 {
		b.WriteString(": ")
		b.WriteString(e.Errors[0].Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Classify maps any error returned by a store or transport to a Kind.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return KindNetwork
	}
	return KindInternal
}

// UserMessage returns the toast text shown for err.
func UserMessage(err error) string {
	var gerr *Error
	if errors.As(err, &gerr) && gerr.Kind == KindBadUserInput && len(gerr.Errors) > 0 {
		return gerr.Errors[0].Message
	}
	switch Classify(err) {
	case KindNetwork:
		return "Erreur réseau : impossible de joindre le serveur"
	case KindBadUserInput:
		return "Données invalides"
	case KindUnauthenticated:
		return "Session expirée, veuillez vous reconnecter"
	case KindForbidden:
		return "Action non autorisée"
	case KindNotFound:
		return "Ressource introuvable"
	}
	return "Une erreur inattendue est survenue"
}

// HTTPStatus maps a Kind to the status the gateway answers with.
func HTTPStatus(k Kind) int {
	switch k {
	case KindBadUserInput:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindNetwork:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func kindFromCode(code string) Kind {
	switch code {
	case "BAD_USER_INPUT", "GRAPHQL_VALIDATION_FAILED", "GRAPHQL_PARSE_FAILED":
		return KindBadUserInput
	case "UNAUTHENTICATED":
		return KindUnauthenticated
	case "FORBIDDEN":
		return KindForbidden
	case "NOT_FOUND":
		return KindNotFound
	}
	return KindInternal
}

// KindForStatus maps an HTTP status to an error kind
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindUnauthenticated
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return KindBadUserInput
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		return KindNetwork
	}
	return KindInternal
}

func errorFromGraphQL(op string, status int, errs []GQLError) *Error {
	kind := KindInternal
	if len(errs) > 0 {
		kind = kindFromCode(errs[0].Code())
	}
	return &Error{Kind: kind, Op: op, Status: status, Errors: errs}
}
