package capture

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/lanikai/camrelay/internal/media"
)

// Options configure a source at open time. Not every source honours every
// field.
type Options struct {
	Width     int
	Height    int
	FrameRate int

	// JPEG quality used by grab sources when re-encoding.
	Quality int

	// Upper bound on a single frame split from a byte stream.
	MaxFrameSize int

	// Passed to rpicam-vid as --post-process-file (e.g. an on-camera
	// detection pipeline).
	PostProcessFile string

	// Applied by grab sources to every image before encoding.
	Transform media.Transformer
}

// Open a source based on its "source spec". A source spec is a colon-separated string
// consisting of a source tag and a source path:
//    sourceSpec = sourceTag + ":" + sourcePath
// The format of the source path is defined by the registered OpenFunc.
func OpenSource(spec string, opts Options) (Source, error) {
	log.Debug("Registered source types: %v", SourceTypes())

	// Split the spec string into tag and path
	parts := strings.SplitN(spec, ":", 2)
	var tag, path string
	tag = parts[0]
	if len(parts) == 2 {
		path = parts[1]
	}

	open, found := registry[tag]
	if !found {
		return nil, errors.Errorf("Source type '%s' not registered (known: %s)", tag, strings.Join(SourceTypes(), ", "))
	}
	src, err := open(path, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open source %q", spec)
	}
	return src, nil
}

// A function used to open a specific source type.
type OpenFunc func(path string, opts Options) (Source, error)

var registry = map[string]OpenFunc{}

// Register a source type, identified by its "source tag". Sources of this type will be
// opened with the given function. Meant to be called from init functions.
func RegisterSourceType(tag string, open OpenFunc) {
	registry[tag] = open
}

// SourceTypes lists the registered source tags.
func SourceTypes() []string {
	var tags []string
	for t := range registry {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}
