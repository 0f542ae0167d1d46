package app

import (
	"log"
	"mime"
)

func init() {
	ensureMimeType(".csv", "text/csv; charset=utf-8")
	ensureMimeType(".xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	ensureMimeType(".zip", "application/zip")
}

func ensureMimeType(ext, typ string) {
	if mime.TypeByExtension(ext) != "" {
		return
	}
	if err := mime.AddExtensionType(ext, typ); err != nil {
		log.Printf("app: failed to register MIME type for %s: %v", ext, err)
	}
}
