package handler

import (
	"context"
	"errors"
	"net/http"

	"agri-assist-go/internal/config"
	"agri-assist-go/pkg/backend"
	"agri-assist-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// TranscribeHandler 负责把录音转发给后端转写。
type TranscribeHandler struct {
	backend  backend.Client
	timeout  config.TimeoutsConfig
	maxBytes int64
}

// NewTranscribeHandler 创建一个新的 TranscribeHandler 实例。
func NewTranscribeHandler(backendClient backend.Client, timeouts config.TimeoutsConfig, upload config.UploadConfig) *TranscribeHandler {
	return &TranscribeHandler{
		backend:  backendClient,
		timeout:  timeouts,
		maxBytes: upload.MaxAudioBytes,
	}
}

// Transcribe 接收 multipart 表单中的 audio 文件并返回转写结果。
func (h *TranscribeHandler) Transcribe(c *gin.Context) {
	if h.maxBytes > 0 {
		// 为表单的其它部分预留 1MB
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+1<<20)
	}
	fileHeader, err := c.FormFile("audio")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, "Audio file is too large")
			return
		}
		fail(c, http.StatusBadRequest, "No audio file provided")
		return
	}
	if h.maxBytes > 0 && fileHeader.Size > h.maxBytes {
		fail(c, http.StatusRequestEntityTooLarge, "Audio file is too large")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, "No audio file provided")
		return
	}
	defer file.Close()

	email := sessionEmail(c)
	contentType := fileHeader.Header.Get("Content-Type")
	log.Infof("Transcribe: 收到音频, email: %s, size: %d bytes, type: %s", email, fileHeader.Size, contentType)

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout.Transcribe)
	defer cancel()
	resp, err := h.backend.Transcribe(ctx, email, backend.Audio{
		Filename:    fileHeader.Filename,
		ContentType: contentType,
		Data:        file,
	})
	if err != nil {
		log.Warnf("Transcribe: 转写失败, email: %s, error: %v", email, err)
		switch se, ok := asStatusError(err); {
		case ok:
			message := se.Message
			if message == "" {
				message = "Transcription failed"
			}
			fail(c, se.Status, message)
		case errors.Is(err, backend.ErrInvalidResponse):
			fail(c, http.StatusInternalServerError, "Backend error: Invalid response format. Check Python backend logs.")
		case isTimeout(err):
			fail(c, http.StatusRequestTimeout, "Transcription timeout. Please try again.")
		default:
			fail(c, http.StatusServiceUnavailable, "Service temporarily unavailable")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"transcript": resp.Transcript,
		"language":   resp.Language,
	})
}
