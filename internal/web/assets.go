package web

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
)

// assetHandler serves flat files from the assets directory. Only the base
// name of the request path is used, so nothing outside dir is reachable.
type assetHandler struct {
	dir string
}

func newAssetHandler(dir string) *assetHandler {
	return &assetHandler{dir: dir}
}

func (h *assetHandler) serve(c *gin.Context) {
	filename := filepath.Base(c.Param("file"))
	path := filepath.Join(h.dir, filename)
	if !fileExists(path) {
		writeError(c, http.StatusNotFound, "asset not found")
		return
	}
	c.File(path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
