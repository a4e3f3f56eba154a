// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const MaxCamIDLen = 36

var (
	ErrCamIDTooLong = errors.New("cam id too long")
	ErrEmptyRoomID  = errors.New("room id empty")
)

type (
	// PeerID is a transport-level identity. It exists only while the
	// underlying connection is alive; a reconnect yields a new PeerID.
	PeerID string

	// CamID is a caller-chosen logical camera identity. It stays stable
	// across reconnects even though the PeerID changes.
	CamID string
)

// ValidCamID rejects ids that would not fit the display label budget.
func ValidCamID(id CamID) error {
	if len(id) > MaxCamIDLen {
		return ErrCamIDTooLong
	}
	return nil
}
