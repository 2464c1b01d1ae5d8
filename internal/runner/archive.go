// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runner

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// unzipProduct extracts a product archive into destDir and returns the path
// of the root folder inside the archive.
func unzipProduct(zipPath, destDir string) (string, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", zipPath, err)
	}
	defer reader.Close()

	var root string
	for _, file := range reader.File {
		name := filepath.Clean(file.Name)
		if name == "." || strings.HasPrefix(name, "..") {
			continue
		}
		if root == "" {
			root = strings.SplitN(filepath.ToSlash(name), "/", 2)[0]
		}

		target := filepath.Join(destDir, name)
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return "", fmt.Errorf("archive entry %q escapes the extraction directory", file.Name)
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return "", err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return "", err
		}
		if err := extractFile(file, target); err != nil {
			return "", err
		}
	}

	if root == "" {
		return "", fmt.Errorf("archive %s is empty", zipPath)
	}
	return filepath.Join(destDir, root), nil
}

func extractFile(file *zip.File, target string) error {
	in, err := file.Open()
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, file.Mode().Perm()|0o600)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// zipProduct packages the plugin output folder as a zip under destDir. A
// trailing ".SAFE" marker is stripped from the archive base name.
func zipProduct(output, destDir string) (string, error) {
	output = strings.TrimRight(output, "/")
	basename := filepath.Base(output)
	zipName := strings.TrimSuffix(basename, ".SAFE") + ".zip"
	zipPath := filepath.Join(destDir, zipName)

	out, err := os.Create(zipPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	writer := zip.NewWriter(out)

	err = filepath.WalkDir(output, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(filepath.Dir(output), path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == "." {
				return nil
			}
			_, err := writer.Create(rel + "/")
			return err
		}

		entry, err := writer.Create(rel)
		if err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(entry, in)
		return err
	})
	if err != nil {
		writer.Close()
		return "", fmt.Errorf("packaging %s: %w", output, err)
	}
	if err := writer.Close(); err != nil {
		return "", err
	}
	return zipPath, nil
}
