package connregistry

import "errors"

var (
	// ErrAlreadyAdded is returned by Add when the connection is already registered.
	ErrAlreadyAdded = errors.New("connregistry: connection already registered")

	// ErrUnknownConnection is returned whenever an operation references a
	// connection that was never Add-ed, or was already Remove-d.
	ErrUnknownConnection = errors.New("connregistry: unknown connection")

	// ErrUIDTaken is returned by BindUID when uid is already bound to a
	// different connection.
	ErrUIDTaken = errors.New("connregistry: uid already bound")
)
