package apperrors

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
)

// NewDecodeFailure reports a malformed or unrecognised payload
func NewDecodeFailure(reason string) *AppError {
	if reason == "" {
		reason = "Payload could not be decoded"
	}
	return New(ErrCodeDecodeFailed, reason, fiber.StatusBadRequest)
}

func NewGroupNotFound(groupID string) *AppError {
	return New(ErrCodeNotFound, "Group not found", fiber.StatusNotFound).
		WithDetails("group_id", groupID)
}

func NewMembershipNotChanged(groupID, member, action string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("Group not found or member %s", action), fiber.StatusNotFound).
		WithDetails("group_id", groupID).
		WithDetails("member", member)
}

func NewNotGroupMember(actor, groupID string) *AppError {
	return New(ErrCodeForbidden, "You are not a member of this group", fiber.StatusForbidden).
		WithDetails("actor", actor).
		WithDetails("group_id", groupID)
}

func NewMisroutedPeerRequest(target, local string) *AppError {
	return New(ErrCodeForbidden, "Peer request is not addressed to this node", fiber.StatusForbidden).
		WithDetails("target", target).
		WithDetails("node", local)
}

// Relay errors

func NewRelayTimeout(peer string, timeout time.Duration) *AppError {
	return New(ErrCodeRelayTimeout, "Peer did not acknowledge in time", fiber.StatusGatewayTimeout).
		WithDetails("peer", peer).
		WithDetails("timeout", timeout.String())
}

// NewRelayRejected carries the remote's own message verbatim
func NewRelayRejected(peer string, status int, remoteMessage string) *AppError {
	if remoteMessage == "" {
		remoteMessage = fmt.Sprintf("Peer rejected the request with status %d", status)
	}
	return New(ErrCodeRelayRejected, remoteMessage, fiber.StatusBadGateway).
		WithDetails("peer", peer).
		WithDetails("peer_status", status)
}

func NewRelayUnavailable(peer, reason string, err error) *AppError {
	return New(ErrCodeRelayUnavailable, "Peer is unavailable", fiber.StatusServiceUnavailable).
		WithDetails("peer", peer).
		WithDetails("reason", reason).
		WithInternal(err)
}

// Storage errors

func NewStorageError(operation string, err error) *AppError {
	return New(ErrCodeStorage, "Storage operation failed", fiber.StatusInternalServerError).
		WithDetails("operation", operation).
		WithInternal(err)
}

// Surface errors

func NewMethodNotAllowed() *AppError {
	return New(ErrCodeMethodNotAllowed, "Method not allowed", fiber.StatusMethodNotAllowed)
}

func NewNotImplemented(what string) *AppError {
	return New(ErrCodeNotImplemented, "Not implemented", fiber.StatusNotImplemented).
		WithDetails("operation", what)
}

func NewServiceUnavailable(reason string) *AppError {
	return New(ErrCodeUnavailable, reason, fiber.StatusServiceUnavailable)
}

func NewRateLimitError() *AppError {
	return New(ErrCodeRateLimited, "Too many requests. Please try again later.", fiber.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	if message == "" {
		message = "An internal error occurred"
	}
	return New(ErrCodeInternal, message, fiber.StatusInternalServerError)
}
