package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	transcodedomain "video_transcode_pipeline/internal/transcode/domain"
	"video_transcode_pipeline/internal/upload/app"
	"video_transcode_pipeline/internal/upload/domain"
	"video_transcode_pipeline/pkg"
	"video_transcode_pipeline/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// HeaderUserID owner id injected by the proxy in front of the API
const HeaderUserID = "X-User-ID"

// VideoHandler definition video handler
type VideoHandler struct {
	Usecase        app.UploadUseCase
	MaxUploadBytes int64 // 0 means unlimited
}

// NewVideoHandler create VideoHandler
func NewVideoHandler(usecase app.UploadUseCase, maxUploadBytes int) *VideoHandler {
	return &VideoHandler{Usecase: usecase, MaxUploadBytes: int64(maxUploadBytes)}
}

// UploadVideo accepts a multipart upload and queues its transcoding job
func (h *VideoHandler) UploadVideo(c *fiber.Ctx) error {
	ownerID := c.Get(HeaderUserID)
	if ownerID == "" {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "missing " + HeaderUserID})
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "file is required"})
	}
	if h.MaxUploadBytes > 0 && fileHeader.Size > h.MaxUploadBytes {
		return c.Status(http.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": fmt.Sprintf("file exceeds %d bytes", h.MaxUploadBytes)})
	}
	file, err := fileHeader.Open()
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "cannot read file"})
	}
	defer file.Close()

	res, err := h.Usecase.UploadVideo(c.UserContext(), domain.UploadVideoReq{
		OwnerID:       ownerID,
		Title:         c.FormValue("title"),
		FileName:      fileHeader.Filename,
		Qualities:     pkg.SplitList(c.FormValue("quality")),
		ThumbnailTime: c.FormValue("thumbnail_time"),
		File:          file,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(http.StatusAccepted).JSON(res)
}

// GetVideo get video by id
func (h *VideoHandler) GetVideo(c *fiber.Ctx) error {
	res, err := h.Usecase.GetVideo(c.UserContext(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(res)
}

// ListVideos videos of the calling owner, ?limit=N
func (h *VideoHandler) ListVideos(c *fiber.Ctx) error {
	ownerID := c.Get(HeaderUserID)
	if ownerID == "" {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "missing " + HeaderUserID})
	}
	limit := c.QueryInt("limit", 20)
	res, err := h.Usecase.ListVideos(c.UserContext(), ownerID, limit)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(res)
}

// Callback completion callback sent by the transcode worker
func (h *VideoHandler) Callback(c *fiber.Ctx) error {
	var payload transcodedomain.CallbackPayload
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid callback body"})
	}
	if err := h.Usecase.CompleteVideo(c.UserContext(), c.Params("id"), payload); err != nil {
		return errorResponse(c, err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// Healthz liveness check
func Healthz(c *fiber.Ctx) error {
	return c.SendString("ok")
}

// DebugLogFlag toggle debug log, POST /debug?status=true
func DebugLogFlag(c *fiber.Ctx) error {
	query, err := url.ParseQuery(string(c.Context().QueryArgs().QueryString()))
	if err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	status, err := strconv.ParseBool(query.Get("status"))
	if err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	logger.Log.Info("debug", zap.Bool("status", status))
	logger.Log.SetDebugMode(status)
	return c.SendString(fmt.Sprintf("debug mode is : %t", status))
}

func errorResponse(c *fiber.Ctx, err error) error {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidUpload):
		code = http.StatusBadRequest
	case errors.Is(err, domain.ErrVideoNotFound):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrSubmitFailed):
		code = http.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
