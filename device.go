package cryptdev

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/absfs/absfs"
	"github.com/google/uuid"
)

// BlockIO is one asynchronous operation on an underlying device
type BlockIO struct {
	Cmd    Cmd
	Offset int64 // Byte offset on the device
	Data   []byte
	Err    error
	Done   func(*BlockIO)
}

// Device is the underlying block device a target encrypts onto
type Device interface {
	// Strategy starts the operation and calls bio.Done once it completes,
	// with bio.Err set on failure
	Strategy(bio *BlockIO)

	// ID identifies the device
	ID() DeviceID

	// Size returns the device size in bytes
	Size() (int64, error)

	// Close releases the device handle
	Close() error
}

// DeviceOpener resolves a device path from the parameter string
type DeviceOpener interface {
	OpenDevice(path string) (Device, error)
}

// DeviceOpenerFunc adapts a function to DeviceOpener
type DeviceOpenerFunc func(path string) (Device, error)

// OpenDevice calls f(path)
func (f DeviceOpenerFunc) OpenDevice(path string) (Device, error) {
	return f(path)
}

// DeviceID identifies an underlying device. UUID is stable for a path.
type DeviceID struct {
	Path string
	UUID uuid.UUID
}

// String returns the path and uuid of the device
func (d DeviceID) String() string {
	return fmt.Sprintf("%s (%s)", d.Path, d.UUID)
}

// NewDeviceID derives the identifier of the device at path
func NewDeviceID(path string) DeviceID {
	return DeviceID{
		Path: path,
		UUID: uuid.NewSHA1(uuid.NameSpaceURL, []byte("cryptdev:"+path)),
	}
}

// FileDevices resolves device paths on an absfs.FileSystem, so device nodes,
// image files and in-memory files all serve as underlying devices
type FileDevices struct {
	fs absfs.FileSystem
}

// NewFileDevices creates a resolver over the filesystem
func NewFileDevices(fs absfs.FileSystem) *FileDevices {
	return &FileDevices{fs: fs}
}

// OpenDevice opens the device at path for reading and writing
func (d *FileDevices) OpenDevice(path string) (Device, error) {
	if path == "" {
		return nil, NewConfigError(ErrDeviceNotFound, "device", path, "device path cannot be empty")
	}

	info, err := d.fs.Stat(path)
	if err != nil {
		return nil, wrapConfigError(ErrDeviceNotFound, "device", err)
	}
	if info.IsDir() {
		return nil, NewConfigError(ErrDeviceNotFound, "device", path, "device path is a directory")
	}

	f, err := d.fs.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, wrapConfigError(ErrDeviceNotFound, "device", err)
	}

	return &fileDevice{
		file: f,
		id:   NewDeviceID(path),
	}, nil
}

// fileDevice serves block I/O from an absfs.File. Each operation runs on
// its own goroutine; file access is serialized.
type fileDevice struct {
	file absfs.File
	id   DeviceID
	mu   sync.Mutex
}

func (d *fileDevice) Strategy(bio *BlockIO) {
	go func() {
		bio.Err = d.do(bio)
		bio.Done(bio)
	}()
}

func (d *fileDevice) do(bio *BlockIO) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch bio.Cmd {
	case CmdRead:
		n, err := d.file.ReadAt(bio.Data, bio.Offset)
		if n == len(bio.Data) {
			return nil
		}
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	case CmdWrite:
		_, err := d.file.WriteAt(bio.Data, bio.Offset)
		return err
	case CmdFlush:
		return d.file.Sync()
	default:
		return fmt.Errorf("unsupported command %s", bio.Cmd)
	}
}

func (d *fileDevice) ID() DeviceID {
	return d.id
}

func (d *fileDevice) Size() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, err := d.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (d *fileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Close()
}
