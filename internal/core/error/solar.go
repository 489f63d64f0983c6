package errx

// WrapSolarAPI maps a solar company API failure to the unified AppError type.
// The upstream HTTP status is carried through so callers can distinguish
// client-side (4xx) from upstream (5xx) failures.
func WrapSolarAPI(err error, status int) error {
	if err == nil {
		return nil
	}
	return New(err, status, SolarAPIErrorMessage)
}
