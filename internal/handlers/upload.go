package handlers

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/inkroom/internal/models"
	"github.com/charlesng35/inkroom/internal/services"
	apperrors "github.com/charlesng35/inkroom/pkg/errors"
	"github.com/charlesng35/inkroom/pkg/logger"
	"github.com/charlesng35/inkroom/pkg/metrics"
	"github.com/charlesng35/inkroom/pkg/response"
)

const (
	uploadFormField   = "file"
	uploaderIDHeader  = "uploader-id"
	multipartOverhead = 1 << 20
)

// FileHandler accepts session uploads and serves stored files.
type FileHandler struct {
	files    *services.FileService
	maxBytes int64
}

func NewFileHandler(files *services.FileService, maxBytes int64) *FileHandler {
	return &FileHandler{files: files, maxBytes: maxBytes}
}

type sharedFileDTO struct {
	FileName    string `json:"fileName"`
	FileURL     string `json:"fileUrl"`
	Uploader    string `json:"uploader"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	SharedAt    string `json:"sharedAt"`
}

type sharedFilesResponse struct {
	SessionID string          `json:"sessionId"`
	Files     []sharedFileDTO `json:"files"`
}

func mapSharedFile(file models.SharedFile) sharedFileDTO {
	sharedAt := ""
	if !file.CreatedAt.IsZero() {
		sharedAt = file.CreatedAt.UTC().Format(time.RFC3339)
	}
	return sharedFileDTO{
		FileName:    file.FileName,
		FileURL:     file.URL,
		Uploader:    file.UploaderName,
		ContentType: file.ContentType,
		Size:        file.Size,
		SharedAt:    sharedAt,
	}
}

// POST /upload/:sessionId
func (h *FileHandler) Upload(c *gin.Context) {
	if h.maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+multipartOverhead)
	}

	input := services.UploadInput{
		SessionID:  c.Param("sessionId"),
		UploaderID: c.GetHeader(uploaderIDHeader),
	}

	header, err := c.FormFile(uploadFormField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.Uploads.WithLabelValues("too_large").Inc()
			response.Error(c, apperrors.ErrFileTooLarge)
			return
		}
		// a nil body is reported by the service as a missing file
		h.respondUpload(c, input)
		return
	}

	file, err := header.Open()
	if err != nil {
		response.Error(c, apperrors.ErrUploadFailed.WithInternal(err))
		return
	}
	defer closeUpload(file)

	input.FileName = header.Filename
	input.ContentType = header.Header.Get("Content-Type")
	input.Size = header.Size
	input.Body = file
	h.respondUpload(c, input)
}

func (h *FileHandler) respondUpload(c *gin.Context, input services.UploadInput) {
	result, err := h.files.Upload(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// GET /upload/:sessionId
func (h *FileHandler) List(c *gin.Context) {
	sessionID := c.Param("sessionId")
	files, err := h.files.List(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}

	dtos := make([]sharedFileDTO, 0, len(files))
	for _, file := range files {
		dtos = append(dtos, mapSharedFile(file))
	}
	response.JSON(c, http.StatusOK, sharedFilesResponse{SessionID: sessionID, Files: dtos})
}

// GET /uploads/:key
func (h *FileHandler) Serve(c *gin.Context) {
	reader, record, err := h.files.Open(c.Request.Context(), c.Param("key"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer reader.Close()

	c.DataFromReader(http.StatusOK, record.Size, record.ContentType, reader, map[string]string{
		"X-Content-Type-Options": "nosniff",
		"Cache-Control":          "public, max-age=" + strconv.Itoa(int((24 * time.Hour).Seconds())),
	})
}

func closeUpload(file multipart.File) {
	if err := file.Close(); err != nil {
		logger.WithModule("handlers").Debug("failed to close upload", zap.Error(err))
	}
}
