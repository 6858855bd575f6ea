// Package filestore exposes a user's uploaded files by identifier.
package filestore

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("file not found")

const MimeCSV = "text/csv"

// File describes one stored entry. ID is stable for the owning user.
type File struct {
	ID       string
	Name     string
	MimeType string
	IsFolder bool
	Path     string
	Size     int64
}

// Store reads a user's files and folders.
type Store interface {
	Get(ctx context.Context, userID, fileID string) (File, error)
	ReadBytes(ctx context.Context, userID, fileID string) ([]byte, error)
	// NameAndExtension splits the display name into base and extension
	// (with its leading dot).
	NameAndExtension(ctx context.Context, userID, fileID string) (string, string, error)
	// FolderOf returns the folder path of fileID: the entry itself when it
	// is a folder, its parent otherwise.
	FolderOf(ctx context.Context, userID, fileID string) (string, error)
	// List returns every entry below folderPath, folders included, in
	// lexical path order.
	List(ctx context.Context, userID, folderPath string) ([]File, error)
}
