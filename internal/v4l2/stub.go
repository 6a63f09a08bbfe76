//go:build !linux
// +build !linux

package v4l2

import (
	"github.com/pkg/errors"

	"github.com/lanikai/camrelay/internal/capture"
)

func openSource(path string, opts capture.Options) (capture.Source, error) {
	return nil, errors.New("V4L2 capture is only supported on Linux")
}

func init() {
	capture.RegisterSourceType("v4l2", openSource)
}
