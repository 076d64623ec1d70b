package server

import (
	"embed"
	"fmt"
)

//go:embed static
var staticFS embed.FS

// indexHTML は埋め込みのビューアーページを返す
func indexHTML() ([]byte, error) {
	data, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		return nil, fmt.Errorf("埋め込みindex.htmlの読み込みに失敗: %w", err)
	}
	return data, nil
}
