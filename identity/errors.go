package identity

import (
	"github.com/mindease/mindease/errors"
	"google.golang.org/grpc/codes"
)

// Errors returned by providers. Public messages are suitable for display.
var (
	ErrInvalidEmail = errors.NewC("identity: invalid email", codes.InvalidArgument).
		WithPublicMessage("Invalid email address.")

	ErrUserDisabled = errors.NewC("identity: user disabled", codes.PermissionDenied).
		WithPublicMessage("Your account has been disabled.")

	ErrUserNotFound = errors.NewC("identity: user not found", codes.NotFound).
		WithPublicMessage("No user found with this email.")

	ErrWrongPassword = errors.NewC("identity: wrong password", codes.Unauthenticated).
		WithPublicMessage("Incorrect password.")

	ErrInvalidCredential = errors.NewC("identity: invalid credential", codes.Unauthenticated).
		WithPublicMessage("Invalid email or password. If you signed up with Google, please use the Google sign-in method.")

	ErrEmailInUse = errors.NewC("identity: email already in use", codes.AlreadyExists).
		WithPublicMessage("This email is already in use.")

	ErrWeakPassword = errors.NewC("identity: weak password", codes.InvalidArgument).
		WithPublicMessage("Password should be at least 6 characters.")

	ErrPopupClosed = errors.NewC("identity: popup closed by user", codes.Canceled).
		WithPublicMessage("Authentication popup closed by user.")

	ErrCancelledPopup = errors.NewC("identity: cancelled popup request", codes.Canceled).
		WithPublicMessage("Cancelled popup request.")

	ErrAccountExistsWithDifferentCredential = errors.NewC("identity: account exists with different credential", codes.AlreadyExists).
		WithPublicMessage("An account already exists with the same email address but different sign-in method. Please sign in using Google.")

	ErrRequiresRecentLogin = errors.NewC("identity: requires recent login", codes.Unauthenticated).
		WithPublicMessage("Updating your password requires you to log in again. Please sign out and sign in again before updating your password.")

	ErrNoCurrentUser = errors.NewC("identity: no current user", codes.Unauthenticated).
		WithPublicMessage("No authenticated user.")

	ErrInteractiveUnavailable = errors.NewC("identity: interactive sign in is not configured", codes.FailedPrecondition).
		WithPublicMessage("This sign-in method is not available.")

	ErrInvalidToken = errors.NewC("identity: invalid token", codes.Unauthenticated)

	ErrProvider = errors.NewC("identity: provider error", codes.Unavailable).
		WithPublicMessage("An unexpected error occurred.")
)
