// Package server exposes the pipeline over HTTP: document upload, chat,
// status and clear. Response shapes follow the JSON the UI consumes.
package server

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"docqa/internal/config"
	"docqa/internal/extract"
	"docqa/internal/helper"
	"docqa/internal/rag"
)

type Server struct {
	pipeline *rag.Pipeline
	cfg      config.ServerConfig
	engine   *gin.Engine
}

type statusResponse struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type chatRequest struct {
	Question string `json:"question" binding:"required"`
	TopK     int    `json:"top_k"`
}

func New(pipeline *rag.Pipeline, cfg config.ServerConfig) *Server {
	s := &Server{pipeline: pipeline, cfg: cfg}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())

	engine.GET("/", s.handleRoot)
	engine.POST("/upload-pdf", s.handleUpload)
	engine.POST("/upload-multiple-pdfs", s.handleUploadMultiple)
	engine.POST("/chat", s.handleChat)
	engine.GET("/status", s.handleStatus)
	engine.DELETE("/clear", s.handleClear)

	s.engine = engine
	return s
}

func (s *Server) Run() error {
	if s.cfg.UploadDir != "" {
		if err := helper.CreateFolder(s.cfg.UploadDir); err != nil {
			return fmt.Errorf("creating upload dir: %w", err)
		}
	}
	log.Info().Str("addr", s.cfg.Addr).Msg("Starting HTTP server")
	return s.engine.Run(s.cfg.Addr)
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleRoot(c *gin.Context) {
	status, err := s.pipeline.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, statusResponse{Status: "error", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, statusResponse{
		Status:  "online",
		Message: "Document QA API is running",
		Details: map[string]any{
			"document_count": status.EntryCount,
		},
	})
}

func (s *Server) handleUpload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, statusResponse{Status: "error", Message: "missing file field"})
		return
	}
	if !extract.Supported(fileHeader.Filename) {
		c.JSON(http.StatusBadRequest, statusResponse{Status: "error", Message: "unsupported file type"})
		return
	}

	data, err := readUpload(fileHeader)
	if err != nil {
		c.JSON(http.StatusInternalServerError, statusResponse{Status: "error", Message: err.Error()})
		return
	}
	s.stageUpload(c, fileHeader)

	res, err := s.pipeline.Ingest(c.Request.Context(), fileHeader.Filename, data)
	if err != nil {
		c.JSON(http.StatusInternalServerError, statusResponse{
			Status:  "error",
			Message: fmt.Sprintf("Error processing %s: %v", fileHeader.Filename, err),
		})
		return
	}

	c.JSON(http.StatusOK, statusResponse{
		Status:  "success",
		Message: fmt.Sprintf("Document %q processed successfully", fileHeader.Filename),
		Details: map[string]any{
			"filename":       fileHeader.Filename,
			"chunks_created": res.ChunksAdded,
		},
	})
}

func (s *Server) handleUploadMultiple(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, statusResponse{Status: "error", Message: "invalid multipart form"})
		return
	}

	var docs []rag.Document
	var names []string
	for _, fileHeader := range form.File["files"] {
		if !extract.Supported(fileHeader.Filename) {
			continue
		}
		data, err := readUpload(fileHeader)
		if err != nil {
			c.JSON(http.StatusInternalServerError, statusResponse{Status: "error", Message: err.Error()})
			return
		}
		s.stageUpload(c, fileHeader)
		docs = append(docs, rag.Document{ID: fileHeader.Filename, Data: data})
		names = append(names, fileHeader.Filename)
	}

	if len(docs) == 0 {
		c.JSON(http.StatusBadRequest, statusResponse{Status: "error", Message: "no supported files provided"})
		return
	}

	total, err := s.pipeline.IngestMany(c.Request.Context(), docs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, statusResponse{
			Status:  "error",
			Message: fmt.Sprintf("Error processing documents: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, statusResponse{
		Status:  "success",
		Message: fmt.Sprintf("Processed %d documents", len(names)),
		Details: map[string]any{
			"files":        names,
			"total_chunks": total,
		},
	})
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, statusResponse{Status: "error", Message: "question is required"})
		return
	}

	status, err := s.pipeline.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, statusResponse{Status: "error", Message: err.Error()})
		return
	}
	if status.EntryCount == 0 {
		c.JSON(http.StatusBadRequest, statusResponse{
			Status:  "error",
			Message: "No documents loaded. Please upload a document first.",
		})
		return
	}

	answer, err := s.pipeline.Ask(c.Request.Context(), req.Question, req.TopK)
	if err != nil {
		c.JSON(http.StatusInternalServerError, statusResponse{
			Status:  "error",
			Message: fmt.Sprintf("Error generating answer: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"question":      req.Question,
		"answer":        answer.AnswerText,
		"sources":       answer.Sources,
		"used_fallback": answer.UsedFallback,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	status, err := s.pipeline.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, statusResponse{Status: "error", Message: err.Error()})
		return
	}
	state := "ready"
	message := "System ready"
	if status.EntryCount == 0 {
		state = "no_documents"
		message = "Upload documents to start"
	}
	c.JSON(http.StatusOK, statusResponse{
		Status:  state,
		Message: message,
		Details: map[string]any{
			"entry_count":                  status.EntryCount,
			"embedding_model":              status.EmbeddingModel,
			"generation_service_reachable": status.GenerationReachable,
		},
	})
}

func (s *Server) handleClear(c *gin.Context) {
	if err := s.pipeline.ClearAll(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, statusResponse{Status: "error", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("opening upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	return data, nil
}

// stageUpload keeps a copy of the raw upload on disk for re-ingestion.
// Failures only log; indexing proceeds from the in-memory bytes.
func (s *Server) stageUpload(c *gin.Context, fh *multipart.FileHeader) {
	if s.cfg.UploadDir == "" {
		return
	}
	id, err := helper.GenerateUUID()
	if err != nil {
		log.Warn().Err(err).Msg("Could not generate staging id")
		return
	}
	dst := filepath.Join(s.cfg.UploadDir, id+"-"+filepath.Base(fh.Filename))
	if err := c.SaveUploadedFile(fh, dst); err != nil {
		log.Warn().Err(err).Str("file", fh.Filename).Msg("Could not stage upload")
	}
}
