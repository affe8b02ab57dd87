package clip

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

const videoExt = ".mp4"

// Paths derives local file locations from clip ids. Nothing else names clip
// files on disk.
type Paths struct {
	Root string
}

func NewPaths(root string) Paths {
	return Paths{Root: root}
}

func (p Paths) FinalPath(id string) string {
	return filepath.Join(p.Root, id+videoExt)
}

// TemporaryPath is where the recorder writes while a clip is being captured.
func (p Paths) TemporaryPath(id string) string {
	return filepath.Join(p.Root, id+".recording"+videoExt)
}

func (p Paths) HasVideo(id string) bool {
	info, err := os.Stat(p.FinalPath(id))
	return err == nil && info.Mode().IsRegular()
}

// Promote moves a finished recording into its final location.
func (p Paths) Promote(id string) error {
	return os.Rename(p.TemporaryPath(id), p.FinalPath(id))
}

// Remove deletes every local file of the clip. Missing files are not an error.
func (p Paths) Remove(id string) error {
	var errs []error
	for _, path := range []string{p.FinalPath(id), p.TemporaryPath(id)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
