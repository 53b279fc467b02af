package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"

	"github.com/dictor/get621/internal/e621"
)

/*
expandPaths turns files, folders and glob patterns into the list of files to search.
Folders are walked recursively and only files with an image extension are kept.
*/
func expandPaths(sources []string) ([]string, error) {
	filePaths := []string{}
	for _, source := range sources {
		matches, err := filepath.Glob(source)
		if err != nil {
			return nil, e621.FileSystemError(err)
		}
		if len(matches) == 0 {
			Logger.WithField("source", source).Warnln("no file matches")
			continue
		}
		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil {
				return nil, e621.FileSystemError(err)
			}
			if !info.IsDir() {
				filePaths = append(filePaths, match)
				continue
			}
			err = filepath.Walk(match, func(path string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if info.IsDir() {
					return nil
				}
				if isImage(info.Name()) {
					filePaths = append(filePaths, path)
				}
				return nil
			})
			if err != nil {
				return nil, e621.FileSystemError(err)
			}
		}
	}
	return lo.Uniq(filePaths), nil
}

func isImage(name string) bool {
	return lo.Contains(ImageExtension, strings.ToLower(filepath.Ext(name)))
}
