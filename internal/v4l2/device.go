//go:build linux
// +build linux

package v4l2

import (
	"io"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Longest wait for a single frame before the device is considered stalled.
const frameTimeout = 5 * time.Second

// A V4L2 character device.
type device struct {
	// Device path, usually "/dev/video0".
	path string

	// File descriptor of v4l2 device, opened non-blocking.
	fd int

	// Pipe used to interrupt a blocked read from Close.
	wake [2]int

	// Memory-mapped kernel buffers.
	buffers [][]byte

	streaming bool
	closed    int32

	// Held while reading, so Close cannot unmap a buffer in use.
	mu sync.Mutex
}

func openDevice(path string) (*device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0666)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	dev := &device{path: path, fd: fd}
	if err := unix.Pipe2(dev.wake[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "pipe")
	}
	return dev, nil
}

func (dev *device) ioctl(request uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(
			unix.SYS_IOCTL,
			uintptr(dev.fd),
			request,
			uintptr(arg),
		)
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		default:
			return errno
		}
	}
}

// Set the capture format. The driver may adjust any field; the format it
// settled on is returned.
func (dev *device) setPixelFormat(width, height int, format PixelFormat) (v4l2_pix_format, error) {
	f := v4l2_format{typ: V4L2_BUF_TYPE_VIDEO_CAPTURE}
	*f.pix() = v4l2_pix_format{
		width:       uint32(width),
		height:      uint32(height),
		pixelformat: uint32(format),
		field:       V4L2_FIELD_ANY,
	}
	if err := dev.ioctl(VIDIOC_S_FMT, unsafe.Pointer(&f)); err != nil {
		return v4l2_pix_format{}, errors.Wrap(err, "VIDIOC_S_FMT")
	}
	return *f.pix(), nil
}

func (dev *device) setFrameRate(fps int) error {
	p := v4l2_streamparm{typ: V4L2_BUF_TYPE_VIDEO_CAPTURE}
	p.capture().timeperframe = v4l2_fract{numerator: 1, denominator: uint32(fps)}
	return dev.ioctl(VIDIOC_S_PARM, unsafe.Pointer(&p))
}

func (dev *device) setControl(id uint32, value int32) error {
	ctrl := v4l2_control{id: id, value: value}
	return dev.ioctl(VIDIOC_S_CTRL, unsafe.Pointer(&ctrl))
}

// Request n kernel buffers memory-mapped to user-space. The driver may grant
// a different number.
func (dev *device) requestBuffers(n int) (int, error) {
	rb := v4l2_requestbuffers{
		count:  uint32(n),
		typ:    V4L2_BUF_TYPE_VIDEO_CAPTURE,
		memory: V4L2_MEMORY_MMAP,
	}
	err := dev.ioctl(VIDIOC_REQBUFS, unsafe.Pointer(&rb))
	return int(rb.count), err
}

func (dev *device) mapMemory(n int) error {
	granted, err := dev.requestBuffers(n)
	if err != nil {
		return errors.Wrap(err, "VIDIOC_REQBUFS")
	}
	if granted < 1 {
		return errors.New("driver granted no buffers")
	}

	for i := 0; i < granted; i++ {
		qb := v4l2_buffer{
			index:  uint32(i),
			typ:    V4L2_BUF_TYPE_VIDEO_CAPTURE,
			memory: V4L2_MEMORY_MMAP,
		}
		if err := dev.ioctl(VIDIOC_QUERYBUF, unsafe.Pointer(&qb)); err != nil {
			return errors.Wrap(err, "VIDIOC_QUERYBUF")
		}

		buf, err := unix.Mmap(
			dev.fd,
			int64(qb.offset()),
			int(qb.length),
			unix.PROT_READ|unix.PROT_WRITE,
			unix.MAP_SHARED,
		)
		if err != nil {
			return errors.Wrap(err, "mmap")
		}
		dev.buffers = append(dev.buffers, buf)
	}
	return nil
}

func (dev *device) unmapMemory() {
	for _, buf := range dev.buffers {
		unix.Munmap(buf)
	}
	dev.buffers = nil
	dev.requestBuffers(0)
}

func (dev *device) enqueue(index int) error {
	qbuf := v4l2_buffer{
		typ:    V4L2_BUF_TYPE_VIDEO_CAPTURE,
		memory: V4L2_MEMORY_MMAP,
		index:  uint32(index),
	}
	return dev.ioctl(VIDIOC_QBUF, unsafe.Pointer(&qbuf))
}

// Start video capture with n buffers.
func (dev *device) start(n int) error {
	if err := dev.mapMemory(n); err != nil {
		return err
	}

	for i := range dev.buffers {
		if err := dev.enqueue(i); err != nil {
			return errors.Wrap(err, "VIDIOC_QBUF")
		}
	}

	typ := V4L2_BUF_TYPE_VIDEO_CAPTURE
	if err := dev.ioctl(VIDIOC_STREAMON, unsafe.Pointer(&typ)); err != nil {
		return errors.Wrap(err, "VIDIOC_STREAMON")
	}
	dev.streaming = true
	return nil
}

// Wait until the device has a filled buffer, Close is called, or the frame
// timeout passes.
func (dev *device) wait() error {
	deadline := time.Now().Add(frameTimeout)
	for {
		fds := []unix.PollFd{
			{Fd: int32(dev.fd), Events: unix.POLLIN},
			{Fd: int32(dev.wake[0]), Events: unix.POLLIN},
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errors.Errorf("no frame from %s within %v", dev.path, frameTimeout)
		}

		n, err := unix.Poll(fds, int(remaining/time.Millisecond)+1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "poll")
		}
		if n == 0 {
			continue
		}
		if fds[1].Revents != 0 {
			return io.EOF
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return errors.Errorf("%s: device error", dev.path)
		}
		return nil
	}
}

// Read a video frame from the device. Blocks until data is available. The
// returned slice is a copy and remains valid after the buffer is requeued.
func (dev *device) readFrame() ([]byte, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if !dev.streaming {
		return nil, io.EOF
	}

	for {
		if err := dev.wait(); err != nil {
			return nil, err
		}

		dqbuf := v4l2_buffer{
			typ:    V4L2_BUF_TYPE_VIDEO_CAPTURE,
			memory: V4L2_MEMORY_MMAP,
		}
		err := dev.ioctl(VIDIOC_DQBUF, unsafe.Pointer(&dqbuf))
		if err == unix.EAGAIN {
			continue
		}
		if err == unix.EINVAL {
			return nil, io.EOF
		}
		if err != nil {
			return nil, errors.Wrap(err, "VIDIOC_DQBUF")
		}

		index := int(dqbuf.index)
		if index >= len(dev.buffers) {
			return nil, errors.Errorf("driver returned unknown buffer %d", index)
		}

		// Copy data to new heap-allocated buffer.
		out := append([]byte(nil), dev.buffers[index][:dqbuf.bytesused]...)

		if err := dev.enqueue(index); err != nil {
			return nil, errors.Wrap(err, "VIDIOC_QBUF")
		}
		if len(out) == 0 {
			continue
		}
		return out, nil
	}
}

// Close stops capture and releases the device. A concurrent readFrame returns
// io.EOF.
func (dev *device) Close() error {
	if !atomic.CompareAndSwapInt32(&dev.closed, 0, 1) {
		return nil
	}

	unix.Write(dev.wake[1], []byte{0})

	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.streaming {
		// Disable stream (dequeues any outstanding buffers as well).
		typ := V4L2_BUF_TYPE_VIDEO_CAPTURE
		dev.ioctl(VIDIOC_STREAMOFF, unsafe.Pointer(&typ))
		dev.streaming = false
	}
	dev.unmapMemory()

	unix.Close(dev.wake[0])
	unix.Close(dev.wake[1])
	return unix.Close(dev.fd)
}
