package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/ensmarket/internal/chain"
	intentdomain "github.com/smallbiznis/ensmarket/internal/intent/domain"
	webhookdomain "github.com/smallbiznis/ensmarket/internal/webhook/domain"
	"github.com/smallbiznis/ensmarket/pkg/db/pagination"
)

// Stable error codes returned in the response body.
const (
	CodeWebhookUnauthorized     = "WEBHOOK_UNAUTHORIZED"
	CodeWebhookSignatureExpired = "WEBHOOK_SIGNATURE_EXPIRED"
	CodeWebhookIPNotAllowed     = "WEBHOOK_IP_NOT_ALLOWED"
	CodeInternalOpsUnauthorized = "INTERNAL_OPS_UNAUTHORIZED"
	CodeUnauthorized            = "UNAUTHORIZED"
	CodeInvalidPayload          = "INVALID_PAYLOAD"
	CodeInvalidState            = "INVALID_STATE"
	CodeIntentNotFound          = "INTENT_NOT_FOUND"
	CodeDomainTaken             = "DOMAIN_ALREADY_REGISTERED"
	CodeIntentActive            = "INTENT_ALREADY_ACTIVE"
	CodeCommitTxFailed          = "COMMIT_TX_FAILED"
	CodeRegisterTxFailed        = "REGISTER_TX_FAILED"
	CodeRateLimited             = "RATE_LIMITED"
	CodeChainNotConfigured      = "CHAIN_NOT_CONFIGURED"
	CodeInternalError           = "INTERNAL_ERROR"
)

var (
	ErrUnauthorized            = errors.New("unauthorized")
	ErrInternalOpsUnauthorized = errors.New("internal_ops_unauthorized")
	ErrInvalidRequest          = errors.New("invalid_request")
	ErrRateLimited             = errors.New("rate_limited")
	ErrNotFound                = errors.New("not_found")
)

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrorHandlingMiddleware renders the last handler error once, after the
// chain has run, unless a handler already wrote a response.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	var dispatchErr *webhookdomain.DispatchError
	if errors.As(err, &dispatchErr) {
		return mapDispatchError(dispatchErr)
	}

	switch {
	case errors.Is(err, webhookdomain.ErrSignatureExpired):
		return http.StatusUnauthorized, errorPayload{Code: CodeWebhookSignatureExpired, Message: "webhook signature expired"}
	case errors.Is(err, webhookdomain.ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{Code: CodeWebhookUnauthorized, Message: "webhook signature invalid"}
	case errors.Is(err, webhookdomain.ErrIPNotAllowed):
		return http.StatusForbidden, errorPayload{Code: CodeWebhookIPNotAllowed, Message: "source ip not allowed"}
	case errors.Is(err, ErrInternalOpsUnauthorized):
		return http.StatusUnauthorized, errorPayload{Code: CodeInternalOpsUnauthorized, Message: "internal secret invalid"}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{Code: CodeUnauthorized, Message: "unauthorized"}
	case errors.Is(err, ErrRateLimited), errors.Is(err, webhookdomain.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{Code: CodeRateLimited, Message: "rate limit exceeded"}
	case isInvalidPayload(err):
		return http.StatusBadRequest, errorPayload{Code: CodeInvalidPayload, Message: err.Error()}
	case errors.Is(err, intentdomain.ErrInvalidState):
		return http.StatusConflict, errorPayload{Code: CodeInvalidState, Message: err.Error()}
	case errors.Is(err, intentdomain.ErrDomainTaken):
		return http.StatusConflict, errorPayload{Code: CodeDomainTaken, Message: "domain already registered"}
	case errors.Is(err, intentdomain.ErrIntentActive):
		return http.StatusConflict, errorPayload{Code: CodeIntentActive, Message: "an active intent for this domain already exists"}
	case errors.Is(err, intentdomain.ErrNotFound), errors.Is(err, ErrNotFound):
		return http.StatusNotFound, errorPayload{Code: CodeIntentNotFound, Message: "intent not found"}
	case errors.Is(err, chain.ErrNotConfigured):
		return http.StatusServiceUnavailable, errorPayload{Code: CodeChainNotConfigured, Message: "chain rpc not configured"}
	default:
		return http.StatusInternalServerError, errorPayload{Code: CodeInternalError, Message: "internal server error"}
	}
}

// mapDispatchError answers a failed webhook transition. Permanent causes keep
// the sender from retrying; transient ones ask it to.
func mapDispatchError(err *webhookdomain.DispatchError) (int, errorPayload) {
	payload := errorPayload{Code: CodeRegisterTxFailed, Message: "register transition failed"}
	if err.EventType == webhookdomain.EventCommitConfirmed {
		payload = errorPayload{Code: CodeCommitTxFailed, Message: "commit transition failed"}
	}

	switch {
	case errors.Is(err.Cause, intentdomain.ErrNotFound):
		payload.Cause = CodeIntentNotFound
		return http.StatusNotFound, payload
	case errors.Is(err.Cause, intentdomain.ErrInvalidState):
		payload.Cause = CodeInvalidState
		return http.StatusConflict, payload
	case err.Permanent:
		payload.Cause = CodeInvalidPayload
		return http.StatusConflict, payload
	default:
		payload.Cause = CodeInternalError
		return http.StatusBadGateway, payload
	}
}

func isInvalidPayload(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, webhookdomain.ErrInvalidPayload),
		errors.Is(err, pagination.ErrInvalidPageToken),
		errors.Is(err, intentdomain.ErrInvalidID),
		errors.Is(err, intentdomain.ErrInvalidOwner),
		errors.Is(err, intentdomain.ErrInvalidDomain),
		errors.Is(err, intentdomain.ErrInvalidTxHash),
		errors.Is(err, intentdomain.ErrInvalidReason),
		errors.Is(err, intentdomain.ErrInvalidDeadline),
		errors.Is(err, intentdomain.ErrInvalidStatus):
		return true
	default:
		return false
	}
}

// classifyErrorForLog feeds the request logger's error_type and error_code.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "auth_error", payload.Code
	case status == http.StatusTooManyRequests:
		return "rate_limited", payload.Code
	case status >= http.StatusInternalServerError:
		return "server_error", payload.Code
	default:
		return "client_error", payload.Code
	}
}
