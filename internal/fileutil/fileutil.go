package fileutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// DeleteMode selects how a library file is removed
type DeleteMode int

const (
	// DeleteTrash moves the file to the system trash
	DeleteTrash DeleteMode = iota
	// DeletePermanent unlinks the file
	DeletePermanent
	// DeleteMoveTo moves the file into a quarantine folder
	DeleteMoveTo
)

// Remover removes files according to a DeleteMode
type Remover struct {
	Mode   DeleteMode
	MoveTo string // destination for DeleteMoveTo

	// TrashDir replaces the system trash with a folder using the
	// freedesktop layout (files/ and info/)
	TrashDir string
}

// Remove removes path. A file that is already gone is not an error.
func (r Remover) Remove(path string) error {
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	switch r.Mode {
	case DeletePermanent:
		return os.Remove(path)
	case DeleteMoveTo:
		if r.MoveTo == "" {
			return errors.New("move-to folder not set")
		}
		_, err := moveInto(path, r.MoveTo)
		return err
	default:
		return r.trash(path)
	}
}

// Describe returns a short human description of the action
func (r Remover) Describe() string {
	switch r.Mode {
	case DeletePermanent:
		return "permanently delete"
	case DeleteMoveTo:
		return fmt.Sprintf("move to %s", r.MoveTo)
	default:
		if r.TrashDir != "" {
			return fmt.Sprintf("move to trash at %s", r.TrashDir)
		}
		return "move to trash"
	}
}

func (r Remover) trash(path string) error {
	if r.TrashDir == "" && runtime.GOOS == "windows" {
		return recycle(path)
	}
	bin, err := r.bin()
	if err != nil {
		return err
	}
	return bin.put(path, time.Now())
}

// trashBin is a trash folder. When info is set it follows the freedesktop
// layout and every file in files/ has a matching .trashinfo record.
type trashBin struct {
	files string
	info  string
}

func (r Remover) bin() (trashBin, error) {
	if r.TrashDir != "" {
		return freedesktopBin(r.TrashDir), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return trashBin{}, fmt.Errorf("failed to get home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return trashBin{files: filepath.Join(home, ".Trash")}, nil
	case "linux":
		data := os.Getenv("XDG_DATA_HOME")
		if data == "" {
			data = filepath.Join(home, ".local", "share")
		}
		return freedesktopBin(filepath.Join(data, "Trash")), nil
	default:
		return trashBin{files: filepath.Join(home, "photosweep_trash")}, nil
	}
}

func freedesktopBin(root string) trashBin {
	return trashBin{files: filepath.Join(root, "files"), info: filepath.Join(root, "info")}
}

func (b trashBin) put(path string, now time.Time) error {
	if b.info == "" {
		_, err := moveInto(path, b.files)
		return err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	for _, dir := range []string{b.files, b.info} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create trash directory: %w", err)
		}
	}

	// The name must be free in files/ and in info/
	name := findUniqueName(filepath.Base(path), func(name string) bool {
		return missing(filepath.Join(b.files, name)) && missing(filepath.Join(b.info, name+".trashinfo"))
	})

	// The record goes first so a crash never leaves an orphan in files/
	record := filepath.Join(b.info, name+".trashinfo")
	if err := os.WriteFile(record, trashInfo(abs, now), 0o644); err != nil {
		return err
	}
	if err := rename(path, filepath.Join(b.files, name)); err != nil {
		os.Remove(record)
		return err
	}
	return nil
}

func trashInfo(abs string, now time.Time) []byte {
	loc := (&url.URL{Path: filepath.ToSlash(abs)}).EscapedPath()
	return []byte("[Trash Info]\nPath=" + loc + "\nDeletionDate=" + now.Format("2006-01-02T15:04:05") + "\n")
}

// moveInto moves src into dir under a free name and returns the new path
func moveInto(src, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := findUniqueName(filepath.Base(src), func(name string) bool {
		return missing(filepath.Join(dir, name))
	})
	dest := filepath.Join(dir, name)
	return dest, rename(src, dest)
}

// findUniqueName returns filename, or filename with _1, _2... before the
// extension, whichever isAvailable accepts first
func findUniqueName(filename string, isAvailable func(string) bool) string {
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	name := filename
	for n := 1; !isAvailable(name); n++ {
		name = stem + "_" + strconv.Itoa(n) + ext
	}
	return name
}

func missing(path string) bool {
	_, err := os.Lstat(path)
	return errors.Is(err, fs.ErrNotExist)
}

// rename falls back to copy and unlink when src and dest are on different
// filesystems
func rename(src, dest string) error {
	err := os.Rename(src, dest)
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}
	if err := copyFile(src, dest); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dest string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	st, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, st.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dest)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	if err = out.Sync(); err != nil {
		return err
	}
	return os.Chtimes(dest, st.ModTime(), st.ModTime())
}
