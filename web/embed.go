// web/embed.go
package web

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static/*
var staticFiles embed.FS

func StaticFS() http.FileSystem {
	fsys, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	return http.FS(fsys)
}

func GetFile(name string) ([]byte, error) {
	return staticFiles.ReadFile("static/" + name)
}

// Exists reports whether name is a regular embedded file.
func Exists(name string) bool {
	info, err := fs.Stat(staticFiles, "static/"+name)
	return err == nil && !info.IsDir()
}
