package prefs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Signature identifies one version of the backing document on disk.
type Signature struct {
	Exists  bool
	Device  uint64
	Inode   uint64
	ModTime int64
	Size    int64
}

func (s Signature) String() string {
	if !s.Exists {
		return "absent"
	}
	return fmt.Sprintf("dev=%d ino=%d mtime=%d size=%d", s.Device, s.Inode, s.ModTime, s.Size)
}

// ReadSignature stats path. A missing file yields the zero Signature.
func ReadSignature(path string) (Signature, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Signature{}, nil
		}
		return Signature{}, fmt.Errorf("stat %s: %w", path, err)
	}
	sig := Signature{
		Exists:  true,
		ModTime: info.ModTime().UnixNano(),
		Size:    info.Size(),
	}
	sig.Device, sig.Inode = fileIdentity(info)
	return sig, nil
}
