package pipeline

import (
	"context"
	"errors"
)

var (
	ErrCycleDetected   = errors.New("pipeline: cycle detected, graph is not acyclic")
	ErrNodeNotFound    = errors.New("pipeline: node not found")
	ErrEdgeNotFound    = errors.New("pipeline: edge not found")
	ErrSampleNotFound  = errors.New("pipeline: sample not found")
	ErrSampleExists    = errors.New("pipeline: sample already exists")
	ErrCacheNotFound   = errors.New("pipeline: cache not found")
	ErrBindingNotFound = errors.New("pipeline: no pipeline link candidate for source node")
	ErrModuleNotFound  = errors.New("pipeline: module not found")
	ErrInvalidPipeline = errors.New("pipeline: pipeline has validity errors")
	ErrInvalidID       = errors.New("pipeline: invalid node id")
)

// Store defines the contract for persisting and retrieving pipeline documents.
type Store interface {
	// Schema
	CreateSchema(ctx context.Context) error
	DropSchema(ctx context.Context) error

	// Pipelines
	SavePipeline(ctx context.Context, id string, doc *Document) error
	GetPipeline(ctx context.Context, id string) (*Document, error)
	ListPipelines(ctx context.Context) ([]string, error)
	DeletePipeline(ctx context.Context, id string) error
}
