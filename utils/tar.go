package utils

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Tar archives src (a file or a directory) into of. The resulting archive is
// what gets shipped to containers as the function code artifact.
func Tar(src string, of *os.File) error {
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("unable to tar files - %v", err.Error())
	}

	tw := tar.NewWriter(of)
	defer tw.Close()

	return filepath.Walk(src, func(file string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// skip non-regular files
		if !fi.Mode().IsRegular() {
			return nil
		}

		header, err := tar.FileInfoHeader(fi, fi.Name())
		if err != nil {
			return fmt.Errorf("cannot create file header for %v: %v", fi.Name(), err)
		}

		// update the name to correctly reflect the desired destination when untaring
		var strippedSrc string
		if filepath.Dir(src) == "." && !strings.HasPrefix(src, ".") {
			strippedSrc = src // nothing to do
		} else {
			strippedSrc = strings.Replace(file, filepath.Dir(src), "", -1)
		}
		header.Name = strings.TrimPrefix(strippedSrc, string(filepath.Separator))

		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("cannot write file header for %v: %v", fi.Name(), err)
		}

		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()

		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("cannot write file %v: %v", fi.Name(), err)
		}

		return nil
	})
}
