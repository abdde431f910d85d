package app

import (
	"errors"

	"gopherai-rag/internal/ai"
	"gopherai-rag/internal/pkg/textextract"
	"gopherai-rag/internal/search"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("not found")
	ErrPersistence   = errors.New("persistence failure")
	ErrQueueDisabled = errors.New("async ingestion is not enabled")

	ErrProviderUnavailable = ai.ErrProviderUnavailable
	ErrUnreadableDocument  = textextract.ErrUnreadableDocument
	ErrDimensionMismatch   = search.ErrDimensionMismatch
)
