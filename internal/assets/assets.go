// Package assets embeds the IDE shell page and its client script and styles.
package assets

import (
	"embed"
	"io/fs"
)

//go:embed client/*
var clientFS embed.FS

// ClientFS returns the embedded client files
func ClientFS() fs.FS {
	sub, err := fs.Sub(clientFS, "client")
	if err != nil {
		panic(err)
	}
	return sub
}

// GetIDEPage returns the IDE shell document
func GetIDEPage() ([]byte, error) {
	return clientFS.ReadFile("client/ide.html")
}

// GetClientJS returns the IDE client script
func GetClientJS() ([]byte, error) {
	return clientFS.ReadFile("client/codepane.js")
}

// GetClientCSS returns the IDE stylesheet
func GetClientCSS() ([]byte, error) {
	return clientFS.ReadFile("client/codepane.css")
}
