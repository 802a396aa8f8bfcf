// Package cmn provides the node tracker's shared low-level types: error
// kinds, identifiers, and ID allocation, ported from aistore's cmn
// package conventions (see cmn/config.go, cmn/api_const.go) and adapted to
// the node tracker domain.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import "fmt"

// Error kinds. Each is a distinct type so that RPC
// handlers (tracker package) can map them to the wire error codes in
// the node lifecycle rules without string-matching.
type (
	ErrNotFound struct {
		What string
		Key string
	}
	ErrAlreadyExists struct {
		What string
		Key string
	}
	ErrInvalidState struct {
		Entity string
		State string
		Want string
	}
	ErrLimitReached struct {
		What string
		Limit int
	}
	ErrBanned struct {
		NodeID string
	}
	ErrUnavailable struct {
		Reason string
	}
	ErrNotLeader struct{}
)

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s %q: not found", e.What, e.Key)
}

func (e *ErrAlreadyExists) Error() string {
	return fmt.Sprintf("%s %q: already exists", e.What, e.Key)
}

func (e *ErrInvalidState) Error() string {
	return fmt.Sprintf("%s: invalid transition from %q (want %s)", e.Entity, e.State, e.Want)
}

func (e *ErrLimitReached) Error() string {
	return fmt.Sprintf("%s: limit reached (%d)", e.What, e.Limit)
}

func (e *ErrBanned) Error() string {
	return fmt.Sprintf("node %s: banned", e.NodeID)
}

func (e *ErrUnavailable) Error() string {
	return fmt.Sprintf("unavailable: %s", e.Reason)
}

func (*ErrNotLeader) Error() string { return "this cell is not the leader" }

func IsErrNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}

func IsErrAlreadyExists(err error) bool {
	_, ok := err.(*ErrAlreadyExists)
	return ok
}
