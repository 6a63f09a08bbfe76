//////////////////////////////////////////////////////////////////////////////
//
// Media errors
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package media

import "errors"

var (
	// A capture session could not be opened (process failed to spawn, device
	// busy or missing).
	ErrSourceStart = errors.New("source failed to start")

	// A running capture session ended or failed mid-stream.
	ErrSourceRead = errors.New("source read failed")

	// A frame transform (e.g. detection overlay) failed.
	ErrTransform = errors.New("frame transform failed")

	// A start-of-image marker was never followed by an end-of-image marker
	// within the allowed frame size.
	ErrFrameCorrupt = errors.New("frame corrupt")
)
