package session

import (
	"github.com/mindease/mindease/errors"
	"github.com/mindease/mindease/identity"
	"google.golang.org/grpc/codes"
)

// Errors returned by Manager operations. Each carries a public message that is
// also written to the Error() notification slot.
var (
	ErrInvalidCredentials = errors.NewC("session: invalid credentials", codes.Unauthenticated).
		WithPublicMessage("Invalid email or password.")

	ErrOfflineNoCache = errors.NewC("session: offline and no cached profile", codes.Unavailable).
		WithPublicMessage("You are offline and no saved profile is available.")

	ErrProviderSignInFailed = errors.NewC("session: provider sign in failed", codes.Aborted).
		WithPublicMessage("Sign-in with Google failed.")

	ErrSignOutFailed = errors.NewC("session: sign out failed", codes.Unavailable).
		WithPublicMessage("Failed to logout. Please try again.")

	ErrRequiresRecentLogin = errors.NewC("session: requires recent login", codes.FailedPrecondition).
		WithPublicMessage(identity.ErrRequiresRecentLogin.PublicMessage())

	ErrUnauthorized = errors.NewC("session: unauthorized", codes.PermissionDenied).
		WithPublicMessage("Admin privileges required to perform this action.")

	ErrUnauthenticated = errors.NewC("session: unauthenticated", codes.Unauthenticated).
		WithPublicMessage("No authenticated user.")

	ErrUnsupportedFileType = errors.NewC("session: unsupported file type", codes.InvalidArgument).
		WithPublicMessage("Only JPG, PNG, and GIF files are allowed.")

	ErrProfileLoadFailed = errors.NewC("session: profile load failed", codes.Unavailable).
		WithPublicMessage("Failed to load user profile.")

	ErrNotInitialized = errors.NewC("session: manager is not initialized", codes.FailedPrecondition)

	ErrInvalidField = errors.NewC("session: field is not editable", codes.InvalidArgument).
		WithPublicMessage("This field cannot be changed.")

	ErrUpdateFailed = errors.NewC("session: update failed", codes.Unavailable)

	ErrNoAvatar = errors.NewC("session: no avatar", codes.FailedPrecondition).
		WithPublicMessage("No avatar to delete.")

	ErrAvatarFailed = errors.NewC("session: avatar storage failed", codes.Unavailable)

	ErrInvalidTarget = errors.NewC("session: invalid moderation target", codes.FailedPrecondition).
		WithPublicMessage("Cannot perform actions on admin users.")

	ErrTargetNotFound = errors.NewC("session: target user not found", codes.NotFound).
		WithPublicMessage("Target user not found.")

	ErrModerationFailed = errors.NewC("session: moderation failed", codes.Unavailable)
)

// mapError marks sentinel at the caller, keeps the cause in the message and
// prefers the cause's public message, falling back to the sentinel's.
func mapError(sentinel *errors.Error, cause error) *errors.Error {
	err := errors.Mark(sentinel, 1)
	if cause == nil {
		return err
	}
	return err.Append(cause.Error()).
		WithPublicMessage(errors.PublicMessage(cause, sentinel.PublicMessage()))
}

// withMessage is mapError with an explicit fallback message, for sentinels
// whose message depends on the operation.
func withMessage(sentinel *errors.Error, cause error, fallback string) *errors.Error {
	err := errors.Mark(sentinel, 1)
	if cause == nil {
		return err.WithPublicMessage(fallback)
	}
	return err.Append(cause.Error()).WithPublicMessage(errors.PublicMessage(cause, fallback))
}
