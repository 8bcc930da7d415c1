package router

import (
	"video_transcode_pipeline/internal/upload/api/handlers"

	"github.com/gofiber/fiber/v2"
)

// bodyBufferLimit request body bytes fiber keeps in memory
const bodyBufferLimit = 4 << 20

// Config fiber settings of the upload API. Request bodies are streamed, so
// multipart uploads spill to temp files and the size cap is enforced per file
// by the video handler.
func Config() fiber.Config {
	return fiber.Config{
		BodyLimit:         bodyBufferLimit,
		StreamRequestBody: true,
	}
}

// RegisterRoutes register upload API routes
func RegisterRoutes(app *fiber.App, videoHandler *handlers.VideoHandler) {
	app.Get("/healthz", handlers.Healthz)
	app.Post("/debug", handlers.DebugLogFlag)

	v1 := app.Group("/api/v1")
	v1.Post("/videos", videoHandler.UploadVideo)
	v1.Get("/videos", videoHandler.ListVideos)
	v1.Get("/videos/:id", videoHandler.GetVideo)

	app.Post("/internal/videos/:id/callback", videoHandler.Callback)
}
