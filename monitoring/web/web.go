// Package web holds the dashboard served by the monitor.
package web

import (
	"embed"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

//go:embed dist/*
var dist embed.FS

// DevEnv names the environment variable that, when true, makes the dashboard
// load from the source tree so that edits show up without a rebuild.
const DevEnv = "VMCORE_MONITOR_DEV"

// GetAssets returns the file system that holds the dashboard.
func GetAssets() http.FileSystem {
	if dir, ok := sourceDir(); ok {
		log.Printf("serving dashboard from %s", dir)
		return http.Dir(dir)
	}

	sub, err := fs.Sub(dist, "dist")
	if err != nil {
		panic(err)
	}

	return http.FS(sub)
}

func sourceDir() (string, bool) {
	dev, _ := strconv.ParseBool(os.Getenv(DevEnv))
	if !dev {
		return "", false
	}

	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", false
	}

	return filepath.Join(filepath.Dir(file), "dist"), true
}
