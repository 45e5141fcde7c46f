// Package gitrepo mirrors committed versions into one git repository per
// document. Each version becomes a commit holding content.json and
// version.json, tagged v<sequence>.
package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"folio/api/internal/store"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrNotMirrored is returned when a document or version has no mirror entry.
var ErrNotMirrored = errors.New("version not mirrored")

const (
	contentFile = "content.json"
	versionFile = "version.json"
	mainBranch  = "main"
)

type Commit struct {
	Hash      string
	Tag       string
	Message   string
	Author    string
	CreatedAt time.Time
}

type versionMeta struct {
	VersionID    string `json:"versionId"`
	Sequence     int64  `json:"sequence"`
	Title        string `json:"title"`
	ChangeType   string `json:"changeType"`
	Summary      string `json:"summary,omitempty"`
	Author       string `json:"author,omitempty"`
	RestoredFrom string `json:"restoredFrom,omitempty"`
	ContentHash  string `json:"contentHash"`
}

type Mirror struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Mirror {
	return &Mirror{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Archive commits version to its document mirror. Archiving a version whose
// tag already exists returns the existing commit.
func (m *Mirror) Archive(version store.Version) (Commit, error) {
	lock := m.documentLock(version.DocumentID)
	lock.Lock()
	defer lock.Unlock()

	repo, created, err := m.openOrInit(version.DocumentID)
	if err != nil {
		return Commit{}, err
	}

	tag := tagName(version.SequenceNumber)
	if !created {
		if commitObj, err := taggedCommit(repo, tag); err == nil {
			return toCommit(commitObj, tag), nil
		} else if !errors.Is(err, ErrNotMirrored) {
			return Commit{}, err
		}
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, fmt.Errorf("open worktree: %w", err)
	}
	root := worktree.Filesystem.Root()

	meta, err := json.MarshalIndent(versionMeta{
		VersionID:    version.ID,
		Sequence:     version.SequenceNumber,
		Title:        version.Title,
		ChangeType:   string(version.ChangeType),
		Summary:      version.Summary,
		Author:       version.Author,
		RestoredFrom: version.RestoredFrom,
		ContentHash:  version.ContentHash,
	}, "", "  ")
	if err != nil {
		return Commit{}, fmt.Errorf("marshal version metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, versionFile), append(meta, '\n'), 0o644); err != nil {
		return Commit{}, fmt.Errorf("write %s: %w", versionFile, err)
	}
	if err := os.WriteFile(filepath.Join(root, contentFile), version.Content, 0o644); err != nil {
		return Commit{}, fmt.Errorf("write %s: %w", contentFile, err)
	}
	for _, name := range []string{contentFile, versionFile} {
		if _, err := worktree.Add(name); err != nil {
			return Commit{}, fmt.Errorf("git add %s: %w", name, err)
		}
	}

	when := version.CreatedAt
	if when.IsZero() {
		when = time.Now()
	}
	signature := &object.Signature{
		Name:  authorName(version.Author),
		Email: fmt.Sprintf("%s@users.folio.local", sanitizeEmail(version.Author)),
		When:  when,
	}
	hash, err := worktree.Commit(commitMessage(version), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            signature,
	})
	if err != nil {
		return Commit{}, fmt.Errorf("commit version: %w", err)
	}

	if created {
		if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(mainBranch), hash)); err != nil {
			return Commit{}, fmt.Errorf("set main branch ref: %w", err)
		}
		if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
			return Commit{}, fmt.Errorf("set HEAD to main: %w", err)
		}
	}

	if _, err := repo.CreateTag(tag, hash, &git.CreateTagOptions{
		Tagger:  signature,
		Message: commitMessage(version),
	}); err != nil && !errors.Is(err, git.ErrTagExists) {
		return Commit{}, fmt.Errorf("create tag: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommit(commitObj, tag), nil
}

// History lists mirrored versions, newest first.
func (m *Mirror) History(documentID string, limit int) ([]Commit, error) {
	lock := m.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := m.open(documentID)
	if err != nil {
		return nil, err
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}

	tags, err := tagsByCommit(repo)
	if err != nil {
		return nil, err
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommit(commitObj, tags[commitObj.Hash]))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// ContentAt returns the content mirrored for the given sequence number.
func (m *Mirror) ContentAt(documentID string, sequence int64) ([]byte, error) {
	lock := m.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := m.open(documentID)
	if err != nil {
		return nil, err
	}
	commitObj, err := taggedCommit(repo, tagName(sequence))
	if err != nil {
		return nil, err
	}
	file, err := commitObj.File(contentFile)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read content bytes: %w", err)
	}
	return content, nil
}

func (m *Mirror) repoPath(documentID string) string {
	return filepath.Join(m.baseDir, documentID)
}

func (m *Mirror) open(documentID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(m.repoPath(documentID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNotMirrored
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (m *Mirror) openOrInit(documentID string) (*git.Repository, bool, error) {
	repo, err := m.open(documentID)
	if err == nil {
		return repo, false, nil
	}
	if !errors.Is(err, ErrNotMirrored) {
		return nil, false, err
	}

	path := m.repoPath(documentID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, false, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, false, fmt.Errorf("init repo: %w", err)
	}
	return repo, true, nil
}

func (m *Mirror) documentLock(documentID string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	lock, ok := m.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	m.locks[documentID] = lock
	return lock
}

func taggedCommit(repo *git.Repository, tag string) (*object.Commit, error) {
	ref, err := repo.Tag(tag)
	if errors.Is(err, git.ErrTagNotFound) {
		return nil, ErrNotMirrored
	}
	if err != nil {
		return nil, fmt.Errorf("resolve tag %s: %w", tag, err)
	}
	if tagObj, err := repo.TagObject(ref.Hash()); err == nil {
		commitObj, err := tagObj.Commit()
		if err != nil {
			return nil, fmt.Errorf("peel tag %s: %w", tag, err)
		}
		return commitObj, nil
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("read commit for tag %s: %w", tag, err)
	}
	return commitObj, nil
}

func tagsByCommit(repo *git.Repository) (map[plumbing.Hash]string, error) {
	iter, err := repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer iter.Close()

	out := map[plumbing.Hash]string{}
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		target := ref.Hash()
		if tagObj, err := repo.TagObject(target); err == nil {
			target = tagObj.Target
		}
		out[target] = ref.Name().Short()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return out, nil
}

func tagName(sequence int64) string {
	return "v" + strconv.FormatInt(sequence, 10)
}

func commitMessage(version store.Version) string {
	message := fmt.Sprintf("%s %s", tagName(version.SequenceNumber), version.ChangeType)
	if version.Summary != "" {
		message += ": " + version.Summary
	}
	return message + "\n\nversion: " + version.ID
}

func toCommit(commitObj *object.Commit, tag string) Commit {
	return Commit{
		Hash:      commitObj.Hash.String()[:7],
		Tag:       tag,
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func authorName(author string) string {
	if author == "" {
		return "Folio"
	}
	return author
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
