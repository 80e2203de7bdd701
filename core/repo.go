package core

// Repo is a filesystem-rooted collection of documents forming one logical
// memory corpus, identified by the stable id in its .repo marker.
type Repo struct {
	Name      string `json:"name"`
	RepoID    string `json:"repo_id"`
	IsDefault bool   `json:"is_default"`
}
