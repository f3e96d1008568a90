package ppd

import "codeberg.org/mutker/autoprofiled/internal/errors"

const (
	ErrNotConnected   = errors.ErrNotReady
	ErrNoService      = errors.ErrUnavailable
	ErrInvalidProfile = errors.ErrInvalidProfile
	ErrSetProfile     = errors.ErrSetProfile
	ErrBusConnect     = errors.ErrorCode("ppd_bus_connect_failed")
	ErrReadProperties = errors.ErrorCode("ppd_read_properties_failed")
	ErrDecodeProfiles = errors.ErrorCode("ppd_decode_profiles_failed")
)
