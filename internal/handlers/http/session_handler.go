package http

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"rtcstats/internal/core/domain"
	"rtcstats/internal/core/ports"
	"rtcstats/internal/infrastructure/middleware"
	"rtcstats/pkg/errors"
	"rtcstats/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type SessionHandler struct {
	sessions     ports.SessionIngestor
	lookup       ports.SessionLookup
	tempDir      string
	maxBodyBytes int64
	maxBatchSize int
	timeout      time.Duration
	logger       *zap.SugaredLogger
}

func NewSessionHandler(
	sessions ports.SessionIngestor,
	lookup ports.SessionLookup,
	tempDir string,
	maxBodyBytes int64,
	maxBatchSize int,
	timeout time.Duration,
	logger *zap.SugaredLogger,
) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if maxBatchSize < 1 {
		maxBatchSize = 1
	}
	return &SessionHandler{
		sessions:     sessions,
		lookup:       lookup,
		tempDir:      tempDir,
		maxBodyBytes: maxBodyBytes,
		maxBatchSize: maxBatchSize,
		timeout:      timeout,
		logger:       logger,
	}
}

func (h *SessionHandler) SetupRoutes(router gin.IRouter, handlers ...gin.HandlerFunc) {
	api := router.Group("/api/v1", handlers...)
	{
		api.POST("/sessions", h.SubmitSession)
		api.POST("/sessions/batch", h.SubmitBatch)
		if h.lookup != nil {
			api.GET("/sessions/:baseDumpId", h.GetSessions)
		}
	}
}

// SubmitSession spools the raw dump to disk, decodes it and hands it to the
// pipeline. The spooled file is what ends up in the archive.
func (h *SessionHandler) SubmitSession(c *gin.Context) {
	dump, err := os.CreateTemp(h.tempDir, "rtcstats-dump-*.json")
	if err != nil {
		_ = c.Error(errors.NewInternalError(err, "failed to spool dump"))
		return
	}
	defer func() {
		dump.Close()
		os.Remove(dump.Name())
	}()

	body := http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	if _, err := io.Copy(dump, body); err != nil {
		_ = c.Error(readError(err))
		return
	}
	if _, err := dump.Seek(0, io.SeekStart); err != nil {
		_ = c.Error(errors.NewInternalError(err, "failed to rewind dump"))
		return
	}

	sub, err := domain.DecodeSubmission(dump)
	if err != nil {
		_ = c.Error(err)
		return
	}
	sub.DumpPath = dump.Name()
	sub.FillDefaults(c.GetString(middleware.ContextKeyApp))

	ctx := logger.WithClientID(c.Request.Context(), sub.ClientID)
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	result, err := h.sessions.Process(ctx, sub)
	if err != nil {
		_ = c.Error(err)
		return
	}

	if result.ArchiveErr != nil {
		h.logger.Warnw("session stored without archived dump",
			"client_id", result.Persist.ClientID,
			"dump_id", result.Persist.DumpID,
			"request_id", logger.RequestID(ctx),
			"error", result.ArchiveErr,
		)
	}

	c.JSON(http.StatusCreated, result.Receipt())
}

// SubmitBatch takes a JSON array of submission documents and processes them
// concurrently. Each session is spooled and archived on its own; a session
// that is malformed or fails to store does not affect the others.
func (h *SessionHandler) SubmitBatch(c *gin.Context) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	dec := json.NewDecoder(body)

	tok, err := dec.Token()
	if err != nil {
		_ = c.Error(readError(err))
		return
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		_ = c.Error(errors.NewInvalidInputError("batch must be a JSON array of sessions"))
		return
	}

	var (
		items   []domain.BatchItemResult
		subs    []domain.SessionSubmission
		indexes []int
	)
	defer func() {
		for _, sub := range subs {
			os.Remove(sub.DumpPath)
		}
	}()

	app := c.GetString(middleware.ContextKeyApp)
	for dec.More() {
		if len(items) == h.maxBatchSize {
			_ = c.Error(errors.NewInvalidInputError(fmt.Sprintf("batch holds more than %d sessions", h.maxBatchSize)))
			return
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			_ = c.Error(readError(err))
			return
		}

		item := domain.BatchItemResult{Index: len(items)}
		sub, err := domain.DecodeSubmission(bytes.NewReader(raw))
		if err != nil {
			item.Error, item.Message = itemError(err)
			items = append(items, item)
			continue
		}

		path, err := h.spool(raw)
		if err != nil {
			_ = c.Error(errors.NewInternalError(err, "failed to spool dump"))
			return
		}
		sub.DumpPath = path
		sub.FillDefaults(app)

		subs = append(subs, sub)
		indexes = append(indexes, item.Index)
		items = append(items, item)
	}
	if _, err := dec.Token(); err != nil {
		_ = c.Error(readError(err))
		return
	}
	if len(items) == 0 {
		_ = c.Error(errors.NewInvalidInputError("batch is empty"))
		return
	}

	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	results, errs := h.sessions.ProcessBatch(ctx, subs)
	for j, i := range indexes {
		if errs[j] != nil {
			items[i].Error, items[i].Message = itemError(errs[j])
			continue
		}
		receipt := results[j].Receipt()
		items[i].Receipt = &receipt
	}

	h.logger.Infow("processed session batch",
		"sessions", len(items),
		"processed", len(subs),
		"request_id", logger.RequestID(ctx),
	)
	c.JSON(http.StatusOK, domain.BatchReceipt{Sessions: items})
}

// GetSessions lists every record stored under one base client id, that is
// the original upload and each of its reconnect suffixes.
func (h *SessionHandler) GetSessions(c *gin.Context) {
	base := c.Param("baseDumpId")

	docs, err := h.lookup.FindSessions(c.Request.Context(), base)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if len(docs) == 0 {
		_ = c.Error(errors.NewNotFoundError(fmt.Sprintf("no sessions stored for %s", base)))
		return
	}

	c.JSON(http.StatusOK, domain.SessionListing{BaseDumpID: base, Sessions: docs})
}

func (h *SessionHandler) spool(raw []byte) (string, error) {
	f, err := os.CreateTemp(h.tempDir, "rtcstats-dump-*.json")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// readError maps a failure reading the request body.
func readError(err error) error {
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		return errors.NewAppError(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
	}
	return errors.WrapError(fmt.Errorf("%w: %v", domain.ErrMalformedSample, err),
		errors.ErrCodeInvalidInput, "failed to read request body", http.StatusBadRequest)
}

// itemError renders the error of one batch item the way the error middleware
// renders a single upload.
func itemError(err error) (string, string) {
	if stderrors.Is(err, domain.ErrMalformedSample) && !errors.IsAppError(err) {
		return string(errors.ErrCodeInvalidInput), err.Error()
	}
	if appErr := errors.GetAppError(err); appErr != nil {
		return string(appErr.Code), appErr.Message
	}
	return string(errors.ErrCodeInternal), "internal error"
}
