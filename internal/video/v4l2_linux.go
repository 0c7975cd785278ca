package video

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// V4L2 ioctl requests, computed with the same _IOR/_IOW/_IOWR encoding the
// kernel's videodev2.h uses: (dir<<30)|(size<<16)|(magic<<8)|nr. 'V' is
// V4L2's ioctl magic (0x56).
const (
	v4l2Magic = 'V'

	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNrBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14
	iocDirBits  = 2

	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

func ioc(dir, nr uintptr, size uintptr) uintptr {
	return (dir << iocDirShift) | (v4l2Magic << iocTypeShift) | (nr << iocNrShift) | (size << iocSizeShift)
}

func ior(nr uintptr, size uintptr) uintptr  { return ioc(iocRead, nr, size) }
func iow(nr uintptr, size uintptr) uintptr  { return ioc(iocWrite, nr, size) }
func iowr(nr uintptr, size uintptr) uintptr { return ioc(iocRead|iocWrite, nr, size) }

var (
	vidiocQuerycap   = ior(0, unsafe.Sizeof(v4l2Capability{}))
	vidiocEnumFmt    = iowr(2, unsafe.Sizeof(v4l2Fmtdesc{}))
	vidiocGFmt       = iowr(4, unsafe.Sizeof(v4l2Format{}))
	vidiocSFmt       = iowr(5, unsafe.Sizeof(v4l2Format{}))
	vidiocReqbufs    = iowr(8, unsafe.Sizeof(v4l2RequestBuffers{}))
	vidiocQuerybuf   = iowr(9, unsafe.Sizeof(v4l2Buffer{}))
	vidiocQbuf       = iowr(15, unsafe.Sizeof(v4l2Buffer{}))
	vidiocDqbuf      = iowr(17, unsafe.Sizeof(v4l2Buffer{}))
	vidiocStreamon   = iow(18, unsafe.Sizeof(int32(0)))
	vidiocStreamoff  = iow(19, unsafe.Sizeof(int32(0)))
)

const (
	v4l2CapVideoCapture = 0x00000001
	v4l2BufTypeVideoCapture = 1
	v4l2FieldNone = 1
	v4l2MemoryMmap = 1
	v4l2ColorspaceJpeg = 8

	// fourCC 'MJPG'
	v4l2PixFmtMJPEG = uint32('M') | uint32('J')<<8 | uint32('P')<<16 | uint32('G')<<24

	numBuffers = 5
)

// v4l2Capability mirrors struct v4l2_capability.
type v4l2Capability struct {
	Driver       [16]byte
	Card         [32]byte
	BusInfo      [32]byte
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
	Reserved     [3]uint32
}

// v4l2Fmtdesc mirrors struct v4l2_fmtdesc.
type v4l2Fmtdesc struct {
	Index       uint32
	Type        uint32
	Flags       uint32
	Description [32]byte
	PixelFormat uint32
	Reserved    [4]uint32
}

// v4l2PixFormat mirrors struct v4l2_pix_format.
type v4l2PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
	Priv         uint32
	Flags        uint32
	YcbcrEnc     uint32
	Quantization uint32
	XferFunc     uint32
}

// v4l2Format mirrors struct v4l2_format with its union resolved to the pix
// member; the union's raw size on 64-bit Linux is 200 bytes, so unused tail
// bytes preserve ioctl struct size even though only Pix is read/written.
type v4l2Format struct {
	Type uint32
	_    [4]byte // alignment padding, mirrors the compiler-inserted gap before the union
	Pix  v4l2PixFormat
	_    [200 - 48]byte
}

// v4l2RequestBuffers mirrors struct v4l2_requestbuffers.
type v4l2RequestBuffers struct {
	Count    uint32
	Type     uint32
	Memory   uint32
	Reserved [2]uint32
}

// v4l2Buffer mirrors struct v4l2_buffer (mmap memory variant).
type v4l2Buffer struct {
	Index     uint32
	Type      uint32
	BytesUsed uint32
	Flags     uint32
	Field     uint32
	Timestamp unix.Timeval
	Timecode  [16]byte // struct v4l2_timecode, unused here
	Sequence  uint32
	Memory    uint32
	Offset    uint32 // union m; offset branch used for MMAP
	_         uint32 // rest of the 8-byte union m on 64-bit Linux
	Length    uint32
	Reserved2 uint32
	RequestFd int32
}

func ioctl(fd uintptr, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// mappedBuffer is one mmap'd capture buffer.
type mappedBuffer struct {
	data []byte
}

// v4l2Device is the real capture implementation, backed by an open device
// file and its mmap'd buffer ring.
type v4l2Device struct {
	f       *os.File
	buffers []mappedBuffer
}

// openV4L2Device opens the V4L2 capture device, verifies capture+MJPEG
// support, negotiates the configured resolution, and allocates and maps the
// request-buffer ring. It leaves the device in the "stopped" (no
// VIDIOC_STREAMON issued) state.
func openV4L2Device(path string, width, height uint32) (*v4l2Device, error) {
	f, buffers, err := openDevice(path, width, height)
	if err != nil {
		return nil, err
	}
	return &v4l2Device{f: f, buffers: buffers}, nil
}

func (d *v4l2Device) streamOn() error  { return streamOn(d.f.Fd()) }
func (d *v4l2Device) streamOff() error { return streamOff(d.f.Fd()) }
func (d *v4l2Device) dequeue(stop <-chan struct{}) ([]byte, error) {
	return dequeueFrame(d.f.Fd(), d.buffers)
}
func (d *v4l2Device) close() { closeDevice(d.f, d.buffers) }

func openDevice(path string, width, height uint32) (*os.File, []mappedBuffer, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("video: open %s: %w", path, err)
	}

	var cap v4l2Capability
	if err := ioctl(f.Fd(), vidiocQuerycap, unsafe.Pointer(&cap)); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("video: QUERYCAP %s: %w", path, err)
	}
	if cap.Capabilities&v4l2CapVideoCapture == 0 {
		f.Close()
		return nil, nil, fmt.Errorf("video: %s does not support video capture", path)
	}

	if !supportsMJPEG(f.Fd()) {
		f.Close()
		return nil, nil, fmt.Errorf("video: %s does not support MJPEG pixel format", path)
	}

	format := v4l2Format{Type: v4l2BufTypeVideoCapture}
	format.Pix = v4l2PixFormat{
		Width:       width,
		Height:      height,
		PixelFormat: v4l2PixFmtMJPEG,
		Field:       v4l2FieldNone,
		Colorspace:  v4l2ColorspaceJpeg,
	}
	if err := ioctl(f.Fd(), vidiocSFmt, unsafe.Pointer(&format)); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("video: S_FMT %s: %w", path, err)
	}

	req := v4l2RequestBuffers{Count: numBuffers, Type: v4l2BufTypeVideoCapture, Memory: v4l2MemoryMmap}
	if err := ioctl(f.Fd(), vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("video: REQBUFS %s: %w", path, err)
	}

	buffers := make([]mappedBuffer, 0, req.Count)
	for i := uint32(0); i < req.Count; i++ {
		buf := v4l2Buffer{Type: v4l2BufTypeVideoCapture, Memory: v4l2MemoryMmap, Index: i}
		if err := ioctl(f.Fd(), vidiocQuerybuf, unsafe.Pointer(&buf)); err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("video: QUERYBUF %s[%d]: %w", path, i, err)
		}
		data, err := unix.Mmap(int(f.Fd()), int64(buf.Offset), int(buf.Length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("video: mmap %s[%d]: %w", path, i, err)
		}
		buffers = append(buffers, mappedBuffer{data: data})
		if err := ioctl(f.Fd(), vidiocQbuf, unsafe.Pointer(&buf)); err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("video: QBUF %s[%d]: %w", path, i, err)
		}
	}

	return f, buffers, nil
}

func supportsMJPEG(fd uintptr) bool {
	for i := uint32(0); ; i++ {
		desc := v4l2Fmtdesc{Index: i, Type: v4l2BufTypeVideoCapture}
		if err := ioctl(fd, vidiocEnumFmt, unsafe.Pointer(&desc)); err != nil {
			return false
		}
		if desc.PixelFormat == v4l2PixFmtMJPEG {
			return true
		}
	}
}

func streamOn(fd uintptr) error {
	typ := int32(v4l2BufTypeVideoCapture)
	return ioctl(fd, vidiocStreamon, unsafe.Pointer(&typ))
}

func streamOff(fd uintptr) error {
	typ := int32(v4l2BufTypeVideoCapture)
	return ioctl(fd, vidiocStreamoff, unsafe.Pointer(&typ))
}

// dequeueFrame blocks until a filled buffer is available, copies its bytes
// out (so the mmap'd ring can be requeued immediately), requeues the
// buffer, and returns the copy.
func dequeueFrame(fd uintptr, buffers []mappedBuffer) ([]byte, error) {
	var buf v4l2Buffer
	buf.Type = v4l2BufTypeVideoCapture
	buf.Memory = v4l2MemoryMmap
	if err := ioctl(fd, vidiocDqbuf, unsafe.Pointer(&buf)); err != nil {
		return nil, err
	}

	frame := make([]byte, buf.BytesUsed)
	copy(frame, buffers[buf.Index].data[:buf.BytesUsed])

	if err := ioctl(fd, vidiocQbuf, unsafe.Pointer(&buf)); err != nil {
		return nil, err
	}

	return frame, nil
}

func closeDevice(f *os.File, buffers []mappedBuffer) {
	for _, b := range buffers {
		_ = unix.Munmap(b.data)
	}
	_ = f.Close()
}
