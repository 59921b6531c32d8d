package appscheme

import (
	"errors"
	"os"
)

var errInvalidEscape = errors.New("invalid percent-encoded path segment")

func openFile(path string) (*os.File, error) {
	return os.Open(path)
}
