package core

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

// FileNodeRoot names the directory tree a node lives under.
type FileNodeRoot string

const (
	FileRootResource FileNodeRoot = "resource"
	FileRootData     FileNodeRoot = "data"
)

// FileNodeType distinguishes files from folders.
type FileNodeType string

const (
	NodeTypeFile   FileNodeType = "file"
	NodeTypeFolder FileNodeType = "folder"
)

// FileNode is a discovered file or folder inside a repo. Its id is the md5
// of the full path joined with the node type, so re-scanning a repo yields
// stable ids and no duplicate submissions.
type FileNode struct {
	ID              string       `json:"id"`
	RootDirectory   FileNodeRoot `json:"root_directory"`
	FileDirs        []string     `json:"file_dirs"`
	FileName        string       `json:"file_name"`
	NodeType        FileNodeType `json:"node_type"`
	RepoID          string       `json:"repo_id,omitempty"`
	TrackingID      string       `json:"tracking_id"`
	PercentComplete float64      `json:"percent_complete"`
}

// NewFileNode builds a file node with its content-hash id and a tracking id.
func NewFileNode(root FileNodeRoot, dirs []string, name string, nodeType FileNodeType, repoID string) (*FileNode, error) {
	switch root {
	case FileRootResource:
		name = strings.TrimLeft(name, "./\\")
	case FileRootData:
		name = strings.Trim(name, "/\\")
	default:
		return nil, NewValidationError("unknown root directory: %s", root)
	}

	n := &FileNode{
		RootDirectory: root,
		FileDirs:      dirs,
		FileName:      name,
		NodeType:      nodeType,
		RepoID:        repoID,
		TrackingID:    uuid.NewString(),
	}
	n.ID = n.SourceID()
	return n, nil
}

// SourceID computes the stable content-hash identifier for the node. The
// node type is part of the hash so a file and folder with the same path get
// distinct ids.
func (n *FileNode) SourceID() string {
	full := n.FilePath()
	return HashText(full + ":" + string(n.NodeType))
}

// FilePath assembles the node's path from its directory components.
func (n *FileNode) FilePath() string {
	parts := append(append([]string{}, n.FileDirs...), n.FileName)
	return path.Join(parts...)
}
