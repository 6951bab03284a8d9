package helpertest

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/onsi/ginkgo/v2"
)

type TmpFolder struct {
	Path   string
	Error  error
	prefix string
}

type TmpFile struct {
	Path   string
	Error  error
	Folder *TmpFolder
}

// NewTmpFolder creates a temporary folder which is removed after the current spec
func NewTmpFolder(prefix string) *TmpFolder {
	if len(prefix) == 0 {
		prefix = "querylogd"
	}

	path, err := os.MkdirTemp("", prefix)

	res := &TmpFolder{
		Path:   path,
		Error:  err,
		prefix: prefix,
	}

	ginkgo.DeferCleanup(res.Clean)

	return res
}

func (tf *TmpFolder) Clean() error {
	if len(tf.Path) > 0 {
		return os.RemoveAll(tf.Path)
	}

	return nil
}

// CreateStringFile writes the lines separated by line breaks
func (tf *TmpFolder) CreateStringFile(name string, lines ...string) *TmpFile {
	f, err := os.Create(tf.JoinPath(name))
	if err != nil {
		return &TmpFile{Error: err, Folder: tf}
	}

	defer f.Close()

	w := bufio.NewWriter(f)

	if _, err = w.WriteString(strings.Join(lines, "\n")); err == nil {
		err = w.Flush()
	}

	return &TmpFile{
		Path:   f.Name(),
		Error:  err,
		Folder: tf,
	}
}

func (tf *TmpFolder) JoinPath(name string) string {
	return filepath.Join(tf.Path, name)
}

