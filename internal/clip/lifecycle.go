package clip

import (
	"errors"
	"fmt"
)

var ErrIllegalTransition = errors.New("illegal clip transition")

func illegal(r *Record, event string) error {
	return fmt.Errorf("%w: %s from (%s, %s, %s)", ErrIllegalTransition, event,
		r.Status, r.MetadataLocation, r.VideoLocation)
}

// Finalize marks a recording as durably written.
func (r *Record) Finalize() error {
	if r.Status != StatusTemporary {
		return illegal(r, "finalize")
	}
	r.Status = StatusFinal
	return nil
}

// MetadataPushed records a successful metadata write to the remote collection.
// Repeating it on an already published clip is a no-op.
func (r *Record) MetadataPushed() error {
	switch {
	case r.Status != StatusFinal:
		return illegal(r, "metadata pushed")
	case r.MetadataLocation == DeviceAndRemote:
		return nil
	case r.MetadataLocation != DeviceOnly:
		return illegal(r, "metadata pushed")
	}
	r.MetadataLocation = DeviceAndRemote
	return nil
}

// VideoPushed records a successful video upload.
func (r *Record) VideoPushed() error {
	switch {
	case r.Status != StatusFinal:
		return illegal(r, "video pushed")
	case r.VideoLocation == DeviceAndRemote:
		return nil
	case r.VideoLocation != DeviceOnly:
		return illegal(r, "video pushed")
	}
	r.VideoLocation = DeviceAndRemote
	return nil
}

// VideoPulled records a successful video download.
func (r *Record) VideoPulled() error {
	switch {
	case r.Status == StatusInvalid:
		return illegal(r, "video pulled")
	case r.VideoLocation == DeviceAndRemote:
		return nil
	case r.VideoLocation != RemoteOnly:
		return illegal(r, "video pulled")
	}
	r.VideoLocation = DeviceAndRemote
	r.Status = StatusFinal
	return nil
}

// Invalidate marks a clip whose video can never be made available locally.
// Invalid clips are purged from the project and never retried automatically.
func (r *Record) Invalidate() {
	r.Status = StatusInvalid
}
