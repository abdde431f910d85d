package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gopherai-rag/internal/app"
	"gopherai-rag/internal/model"
	"gopherai-rag/internal/pkg/textextract"
	"gopherai-rag/internal/search"
	"gopherai-rag/internal/transport/http/middleware"
	"gopherai-rag/internal/transport/http/response"
)

const maxUploadSize = 20 << 20 // 20 MB

type RAGService interface {
	Upload(ctx context.Context, key string) app.OperationResult
	EnqueueUpload(ctx context.Context, key string) (string, error)
	Query(ctx context.Context, text string, count int) ([]search.Result, error)
	GetFragmentSource(ctx context.Context, fragmentID uint) (string, error)
	ListSources(ctx context.Context) ([]model.SourceSummary, error)
	DeleteSource(ctx context.Context, id uint) error
}

type ChatService interface {
	Chat(ctx context.Context, input app.ChatInput) (*app.ChatResult, error)
	Stream(ctx context.Context, input app.ChatInput, onDelta func(delta string) error) (*app.ChatResult, error)
}

type AIHandler struct {
	rag          RAGService
	chat         ChatService
	uploadDir    string
	defaultCount int
	logger       *zap.Logger
}

type UploadRequest struct {
	FilePath string `json:"file_path" binding:"required"`
	Async    bool   `json:"async"`
}

type QueryRequest struct {
	Query string `json:"query" binding:"required"`
	Count *int   `json:"count"`
}

type ChatRequest struct {
	Message string                   `json:"message" binding:"required"`
	History []model.ConversationTurn `json:"history"`
	Count   int                      `json:"count"`
}

type QueuedUpload struct {
	Status string `json:"status"`
	JobID  string `json:"job_id"`
}

func NewAIHandler(rag RAGService, chat ChatService, uploadDir string, defaultCount int, logger *zap.Logger) *AIHandler {
	if defaultCount <= 0 {
		defaultCount = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AIHandler{
		rag:          rag,
		chat:         chat,
		uploadDir:    uploadDir,
		defaultCount: defaultCount,
		logger:       logger,
	}
}

func (h *AIHandler) Upload(c *gin.Context) {
	var req UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	h.ingest(c, req.FilePath, req.Async)
}

// UploadFile accepts a multipart form with "file" and an optional "async"
// flag, stores the file under the upload dir named by its SHA-256 and
// ingests it from there.
func (h *AIHandler) UploadFile(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}
	if file.Size > maxUploadSize {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file too large (max 20MB)")
		return
	}
	name := filepath.Base(file.Filename)
	if _, ok := textextract.KindOf(name); !ok {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "only PDF, text and markdown files are allowed")
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		h.logger.Error("create upload dir failed", zap.String("dir", h.uploadDir), zap.Error(err))
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to store file")
		return
	}
	digest, err := contentDigest(file)
	if err != nil {
		h.logger.Warn("read uploaded file failed", zap.String("name", name), zap.Error(err))
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "unreadable file")
		return
	}
	// Identical bytes map to the same path, and so to the same source.
	dst := filepath.Join(h.uploadDir, digest+"_"+name)
	if err := c.SaveUploadedFile(file, dst); err != nil {
		h.logger.Error("save uploaded file failed", zap.String("path", dst), zap.Error(err))
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to store file")
		return
	}

	async, _ := strconv.ParseBool(c.PostForm("async"))
	h.ingest(c, dst, async)
}

func (h *AIHandler) ingest(c *gin.Context, key string, async bool) {
	if async {
		jobID, err := h.rag.EnqueueUpload(c.Request.Context(), key)
		if err != nil {
			h.writeError(c, err, "enqueue upload failed")
			return
		}
		response.OK(c, QueuedUpload{Status: "queued", JobID: jobID})
		return
	}

	result := h.rag.Upload(c.Request.Context(), key)
	if result.Status != app.StatusSuccess {
		response.Fail(c, http.StatusUnprocessableEntity, response.CodeUploadFailed, result.Message, result)
		return
	}
	response.OK(c, result)
}

func (h *AIHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	count := h.defaultCount
	if req.Count != nil {
		count = *req.Count
	}

	results, err := h.rag.Query(c.Request.Context(), req.Query, count)
	if err != nil {
		h.writeError(c, err, "query failed")
		return
	}
	response.OK(c, results)
}

func (h *AIHandler) FilePath(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil || id == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid fragment id")
		return
	}

	key, err := h.rag.GetFragmentSource(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, app.ErrNotFound) {
			response.Error(c, http.StatusNotFound, response.CodeFragmentNotFound, fmt.Sprintf("no fragment found with id %d", id))
			return
		}
		h.writeError(c, err, "lookup failed")
		return
	}
	response.OK(c, gin.H{"id": id, "file_path": key})
}

func (h *AIHandler) ListSources(c *gin.Context) {
	sources, err := h.rag.ListSources(c.Request.Context())
	if err != nil {
		h.writeError(c, err, "list sources failed")
		return
	}
	response.OK(c, sources)
}

func (h *AIHandler) DeleteSource(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil || id == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid source id")
		return
	}
	if err := h.rag.DeleteSource(c.Request.Context(), id); err != nil {
		if errors.Is(err, app.ErrNotFound) {
			response.Error(c, http.StatusNotFound, response.CodeSourceNotFound, "source not found")
			return
		}
		h.writeError(c, err, "delete source failed")
		return
	}
	response.OK(c, gin.H{"deleted_source_id": id})
}

func (h *AIHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.chat.Chat(c.Request.Context(), req.input())
	if err != nil {
		h.writeError(c, err, "chat failed")
		return
	}
	response.OK(c, result)
}

// ChatStream answers over server-sent events: one data frame per delta,
// then a "done" event carrying the full result as JSON.
func (h *AIHandler) ChatStream(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "message is empty")
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	result, err := h.chat.Stream(c.Request.Context(), req.input(), func(delta string) error {
		if _, writeErr := c.Writer.Write([]byte("data: " + sanitizeSSE(delta) + "\n\n")); writeErr != nil {
			return writeErr
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		h.logger.Warn("chat stream aborted", zap.String("request_id", middleware.GetRequestID(c)), zap.Error(err))
		if _, writeErr := c.Writer.Write([]byte("event: error\ndata: " + sanitizeSSE(streamErrorMessage(err)) + "\n\n")); writeErr == nil {
			flusher.Flush()
		}
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		payload = []byte("{}")
	}
	if _, writeErr := c.Writer.Write([]byte("event: done\ndata: " + string(payload) + "\n\n")); writeErr == nil {
		flusher.Flush()
	}
}

func (r ChatRequest) input() app.ChatInput {
	return app.ChatInput{Message: r.Message, History: r.History, Count: r.Count}
}

// writeError maps service errors onto the response envelope. Messages are
// fixed strings except for invalid input, which is caller-caused.
func (h *AIHandler) writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrUnreadableDocument):
		response.Error(c, http.StatusBadRequest, response.CodeUnreadableDocument, "document could not be read")
	case errors.Is(err, app.ErrNotFound):
		response.Error(c, http.StatusNotFound, response.CodeNotFound, "not found")
	case errors.Is(err, app.ErrQueueDisabled):
		response.Error(c, http.StatusServiceUnavailable, response.CodeQueueDisabled, "async ingestion is not enabled")
	case errors.Is(err, app.ErrProviderUnavailable):
		response.Error(c, http.StatusServiceUnavailable, response.CodeProviderUnavailable, "model provider unavailable, please retry later")
	case errors.Is(err, app.ErrPersistence):
		response.Error(c, http.StatusInternalServerError, response.CodeStorageUnavailable, "storage unavailable")
	default:
		h.logger.Error(fallback, zap.String("request_id", middleware.GetRequestID(c)), zap.Error(err))
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}

func streamErrorMessage(err error) string {
	if errors.Is(err, app.ErrInvalidInput) {
		return "invalid request"
	}
	return "stream interrupted"
}

func contentDigest(file *multipart.FileHeader) (string, error) {
	f, err := file.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func parseUintParam(c *gin.Context, key string) (uint, error) {
	u, err := strconv.ParseUint(c.Param(key), 10, 64)
	return uint(u), err
}

func sanitizeSSE(input string) string {
	replaced := strings.ReplaceAll(input, "\r\n", "\\n")
	replaced = strings.ReplaceAll(replaced, "\n", "\\n")
	return replaced
}
