// Copyright (C) 2026 Suraj Ranganath
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import "errors"

var (
	// ErrNotFound means the session id is unknown to the manager and its
	// store. Rendered as 404 at the HTTP boundary.
	ErrNotFound = errors.New("session not found")

	// ErrAlreadyExists means Init was called for an id that already has a
	// session. Rendered as 409 at the HTTP boundary.
	ErrAlreadyExists = errors.New("session already exists")

	// ErrStopped means the owning actor has been torn down.
	ErrStopped = errors.New("session actor stopped")
)
