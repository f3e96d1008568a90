package upower

import "codeberg.org/mutker/autoprofiled/internal/errors"

const (
	ErrNotConnected   = errors.ErrNotReady
	ErrBusConnect     = errors.ErrorCode("upower_bus_connect_failed")
	ErrReadProperties = errors.ErrorCode("upower_read_properties_failed")
	ErrReadConf       = errors.ErrorCode("upower_read_conf_failed")
)
