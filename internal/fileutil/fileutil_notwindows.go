//go:build !windows

package fileutil

import "errors"

var errNoRecycleBin = errors.New("recycle bin is only available on windows")

func recycle(string) error {
	return errNoRecycleBin
}
