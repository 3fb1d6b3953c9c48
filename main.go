package main

import (
	"log"
	"net/http"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"zjobly/internal/config"
)

func main() {
	app := NewApp()

	err := wails.Run(&options.App{
		Title:     "Zjobly Studio",
		Width:     1180,
		Height:    820,
		MinWidth:  720,
		MinHeight: 560,
		AssetServer: &assetserver.Options{
			Handler: app.assetHandler(http.FileServer(http.Dir(frontendDir()))),
		},
		OnStartup:  app.startup,
		OnShutdown: app.shutdown,
		Bind:       []interface{}{app},
	})
	if err != nil {
		log.Fatalf("run app: %v", err)
	}
}

// frontendDir falls back to the default when configuration cannot load; the
// startup hook reports that error to the UI.
func frontendDir() string {
	cfg, err := config.Load()
	if err != nil {
		return "frontend"
	}
	return cfg.FrontendDir
}
