package protocol

import "errors"

var (
	ErrInvalidArgument = errors.New("protocol: invalid argument")
	ErrDecode          = errors.New("protocol: decode failed")
	ErrTransport       = errors.New("protocol: transport failure")
	ErrUnknownIndex    = errors.New("protocol: unknown invoke index")
)
