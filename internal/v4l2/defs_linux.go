package v4l2

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Kernel ABI definitions from <linux/videodev2.h>.

const (
	V4L2_BUF_TYPE_VIDEO_CAPTURE uint32 = 1
	V4L2_MEMORY_MMAP            uint32 = 1
	V4L2_FIELD_ANY              uint32 = 0

	V4L2_CID_BASE  uint32 = 0x00980900
	V4L2_CID_HFLIP uint32 = V4L2_CID_BASE + 20
	V4L2_CID_VFLIP uint32 = V4L2_CID_BASE + 21
)

// Request codes follow the asm-generic _IOC layout used on x86 and ARM.
const (
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | uintptr('V')<<8 | nr
}

var (
	VIDIOC_S_FMT     = ioc(iocRead|iocWrite, 5, unsafe.Sizeof(v4l2_format{}))
	VIDIOC_REQBUFS   = ioc(iocRead|iocWrite, 8, unsafe.Sizeof(v4l2_requestbuffers{}))
	VIDIOC_QUERYBUF  = ioc(iocRead|iocWrite, 9, unsafe.Sizeof(v4l2_buffer{}))
	VIDIOC_QBUF      = ioc(iocRead|iocWrite, 15, unsafe.Sizeof(v4l2_buffer{}))
	VIDIOC_DQBUF     = ioc(iocRead|iocWrite, 17, unsafe.Sizeof(v4l2_buffer{}))
	VIDIOC_STREAMON  = ioc(iocWrite, 18, 4)
	VIDIOC_STREAMOFF = ioc(iocWrite, 19, 4)
	VIDIOC_S_PARM    = ioc(iocRead|iocWrite, 22, unsafe.Sizeof(v4l2_streamparm{}))
	VIDIOC_S_CTRL    = ioc(iocRead|iocWrite, 28, unsafe.Sizeof(v4l2_control{}))
)

// The format union is 200 bytes and pointer aligned.
type v4l2_format_union struct {
	data [200 - unsafe.Sizeof(uintptr(0))]byte
	_    unsafe.Pointer
}

type v4l2_format struct {
	typ uint32
	fmt v4l2_format_union
}

// pix views the union as a single-planar pixel format.
func (f *v4l2_format) pix() *v4l2_pix_format {
	return (*v4l2_pix_format)(unsafe.Pointer(&f.fmt))
}

type v4l2_pix_format struct {
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcr_enc    uint32
	quantization uint32
	xfer_func    uint32
}

type v4l2_requestbuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	reserved     [1]uint32
}

type v4l2_timecode struct {
	typ      uint32
	flags    uint32
	frames   uint8
	seconds  uint8
	minutes  uint8
	hours    uint8
	userbits [4]uint8
}

type v4l2_buffer struct {
	index     uint32
	typ       uint32
	bytesused uint32
	flags     uint32
	field     uint32
	timestamp unix.Timeval
	timecode  v4l2_timecode
	sequence  uint32
	memory    uint32
	m         [unsafe.Sizeof(uintptr(0))]byte // offset, userptr, planes or fd
	length    uint32
	reserved2 uint32
	reserved  uint32
}

// offset returns the mmap offset of an MMAP buffer.
func (b *v4l2_buffer) offset() uint32 {
	return *(*uint32)(unsafe.Pointer(&b.m[0]))
}

type v4l2_fract struct {
	numerator   uint32
	denominator uint32
}

type v4l2_captureparm struct {
	capability   uint32
	capturemode  uint32
	timeperframe v4l2_fract
	extendedmode uint32
	readbuffers  uint32
	reserved     [4]uint32
}

type v4l2_streamparm struct {
	typ  uint32
	parm [200]byte
}

func (p *v4l2_streamparm) capture() *v4l2_captureparm {
	return (*v4l2_captureparm)(unsafe.Pointer(&p.parm[0]))
}

type v4l2_control struct {
	id    uint32
	value int32
}
