package services

import (
	"rtcstats/internal/core/domain"
	apperrors "rtcstats/pkg/errors"
	"rtcstats/pkg/validation"
)

const (
	maxClientIDLength     = 200
	maxConferenceIDLength = 1024
)

// validateMetadata rejects identities that cannot be stored or archived.
// Presence of clientId and conferenceId is left to EnsureUniquePersist.
func validateMetadata(meta domain.SessionMetadata) error {
	if meta.ClientID != "" {
		if err := validation.ValidateFileSafeID(meta.ClientID, "clientId", maxClientIDLength); err != nil {
			return invalidInput(err)
		}
	}
	if meta.ConferenceID != "" {
		if err := validation.ValidateStringLength(meta.ConferenceID, 1, maxConferenceIDLength, "conferenceId"); err != nil {
			return invalidInput(err)
		}
	}
	if meta.ConferenceURL != "" {
		if err := validation.ValidateURL(meta.ConferenceURL); err != nil {
			return invalidInput(err)
		}
	}
	if err := validation.ValidateTimeWindow(meta.StartDate, meta.EndDate); err != nil {
		return invalidInput(err)
	}
	return nil
}

func invalidInput(err error) error {
	appErr := apperrors.NewInvalidInputError(err.Error())
	appErr.Cause = err
	return appErr
}
