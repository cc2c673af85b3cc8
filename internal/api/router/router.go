package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/upload-backgrounder/internal/api/handlers/document"
)

func Setup(h *document.Handler) *ginext.Engine {
	r := ginext.New()

	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	api := r.Group("/api")

	api.POST("/documents", h.Create)                // uploading a document with its scan
	api.GET("/documents/:id", h.Get)                // getting document metadata
	api.PUT("/documents/:id/scan", h.ReplaceScan)   // replacing the scan
	api.GET("/documents/:id/scan", h.Scan)          // downloading the original scan
	api.GET("/documents/:id/scan/:version", h.Scan) // downloading a scan version
	api.DELETE("/documents/:id", h.Delete)          // deleting a document

	return r
}
