package http

import (
	"errors"
	"net/http"

	"rehearsal/internal/core/domain"
	"rehearsal/internal/core/services"
	apperrors "rehearsal/pkg/errors"
)

// toAppError maps service errors onto HTTP errors.
func toAppError(err error) *apperrors.AppError {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr
	}

	switch {
	case errors.Is(err, domain.ErrTrackNotFound):
		return apperrors.NewNotFoundError("track")
	case errors.Is(err, domain.ErrTakeNotFound):
		return apperrors.NewNotFoundError("take")
	case errors.Is(err, domain.ErrParticipantNotFound):
		return apperrors.NewNotFoundError("participant")
	case errors.Is(err, domain.ErrParticipantExists):
		return apperrors.NewConflictError(err.Error())
	case errors.Is(err, domain.ErrNothingPlaying):
		return apperrors.NewConflictError(err.Error())
	case errors.Is(err, domain.ErrUnsupportedFormat):
		return apperrors.NewUnsupportedMediaError(err.Error())
	case errors.Is(err, services.ErrInvalidFileName):
		return apperrors.NewInvalidInputError(err.Error())
	case errors.Is(err, services.ErrInvalidCredentials):
		return apperrors.NewUnauthorizedError("invalid credentials")
	case errors.Is(err, services.ErrAuthDisabled):
		return apperrors.NewForbiddenError(err.Error())
	default:
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "internal server error", http.StatusInternalServerError)
	}
}
