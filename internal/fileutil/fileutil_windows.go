//go:build windows

package fileutil

import (
	"fmt"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/windows"
)

var procSHFileOperation = windows.NewLazySystemDLL("shell32.dll").NewProc("SHFileOperationW")

// SHFILEOPSTRUCTW flags
const (
	opDelete     = 0x3
	flagSilent   = 0x4
	flagNoPrompt = 0x10
	flagUndo     = 0x40
	flagNoUI     = 0x400
)

// https://learn.microsoft.com/en-us/windows/win32/api/shellapi/ns-shellapi-shfileopstructw
type fileOp struct {
	hwnd    uintptr
	fn      uint32
	from    *uint16
	to      *uint16
	flags   uint16
	aborted int32
	names   uintptr
	title   *uint16
}

// recycle sends path to the Recycle Bin
func recycle(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	// pFrom is a list terminated by an empty string
	from, err := windows.UTF16FromString(abs)
	if err != nil {
		return err
	}
	from = append(from, 0)

	op := fileOp{
		fn:    opDelete,
		from:  &from[0],
		flags: flagUndo | flagNoPrompt | flagSilent | flagNoUI,
	}
	if ret, _, _ := procSHFileOperation.Call(uintptr(unsafe.Pointer(&op))); ret != 0 {
		return fmt.Errorf("recycle %s: shell error %#x", abs, ret)
	}
	if op.aborted != 0 {
		return fmt.Errorf("recycle %s: aborted", abs)
	}
	return nil
}
