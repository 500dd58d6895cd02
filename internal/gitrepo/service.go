package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"formsmith/api/internal/form"
)

const contentFile = "content.json"

// Version is one published snapshot of a form, tagged v{Number}.
type Version struct {
	Number    int       `json:"number"`
	Tag       string    `json:"tag"`
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service keeps one git repository per form under baseDir.
type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Publish records content as the next published version. When content equals
// the last published snapshot nothing is committed and the existing version is
// returned with created=false.
func (s *Service) Publish(formID string, content form.Content, authorName, authorEmail string) (Version, bool, error) {
	lock := s.formLock(formID)
	lock.Lock()
	defer lock.Unlock()

	repo, fresh, err := s.openOrInit(formID)
	if err != nil {
		return Version{}, false, err
	}

	if !fresh {
		head, err := repo.Head()
		if err != nil {
			return Version{}, false, fmt.Errorf("resolve head: %w", err)
		}
		headCommit, err := repo.CommitObject(head.Hash())
		if err != nil {
			return Version{}, false, fmt.Errorf("load head commit: %w", err)
		}
		current, err := readContentFromCommit(headCommit)
		if err != nil {
			return Version{}, false, err
		}
		if current.Equal(content) {
			versions, err := listVersions(repo)
			if err != nil {
				return Version{}, false, err
			}
			for _, v := range versions {
				if v.Hash == headCommit.Hash.String() {
					return v, false, nil
				}
			}
		}
	}

	versions, err := listVersions(repo)
	if err != nil {
		return Version{}, false, err
	}
	number := 1
	if len(versions) > 0 {
		number = versions[0].Number + 1
	}
	tag := "v" + strconv.Itoa(number)

	hash, err := commit(repo, fresh, content, authorName, authorEmail, "Publish "+tag)
	if err != nil {
		return Version{}, false, err
	}

	_, err = repo.CreateTag(tag, hash, &git.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  "Formsmith",
			Email: "formsmith@localhost",
			When:  time.Now(),
		},
		Message: tag,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return Version{}, false, fmt.Errorf("create tag: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Version{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toVersion(number, tag, commitObj), true, nil
}

// History lists published versions, newest first. A form that was never
// published has no history.
func (s *Service) History(formID string, limit int) ([]Version, error) {
	lock := s.formLock(formID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(formID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Version{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	versions, err := listVersions(repo)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(versions) > limit {
		versions = versions[:limit]
	}
	return versions, nil
}

// Content returns the snapshot stored at ref, a tag name or commit hash.
func (s *Service) Content(formID, ref string) (form.Content, error) {
	lock := s.formLock(formID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(formID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return form.Content{}, fmt.Errorf("form %s versions: %w", formID, form.ErrNotFound)
	}
	if err != nil {
		return form.Content{}, fmt.Errorf("open repo: %w", err)
	}
	hash, err := resolveHash(repo, ref)
	if err != nil {
		return form.Content{}, fmt.Errorf("%w: %w", form.ErrNotFound, err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return form.Content{}, fmt.Errorf("read commit %s: %w", ref, err)
	}
	return readContentFromCommit(commitObj)
}

// Remove deletes the form's repository. Missing repositories are ignored.
func (s *Service) Remove(formID string) error {
	lock := s.formLock(formID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.repoPath(formID)); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	return nil
}

func (s *Service) repoPath(formID string) string {
	return filepath.Join(s.baseDir, formID)
}

func (s *Service) formLock(formID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[formID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[formID] = lock
	return lock
}

func (s *Service) openOrInit(formID string) (*git.Repository, bool, error) {
	path := s.repoPath(formID)
	if _, err := os.Stat(path); err == nil {
		repo, err := git.PlainOpen(path)
		if err != nil {
			return nil, false, fmt.Errorf("open repo: %w", err)
		}
		if _, err := repo.Head(); errors.Is(err, plumbing.ErrReferenceNotFound) {
			return repo, true, nil
		}
		return repo, false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, false, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, false, fmt.Errorf("init repo: %w", err)
	}
	return repo, true, nil
}

func commit(repo *git.Repository, fresh bool, content form.Content, authorName, authorEmail, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}
	if !fresh {
		if err := worktree.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName("main"), Force: true}); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("checkout main: %w", err)
		}
	}

	payload, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal content: %w", err)
	}
	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, contentFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add content: %w", err)
	}

	if authorName == "" {
		authorName = authorEmail
	}
	if authorEmail == "" {
		authorEmail = fmt.Sprintf("%s@local.formsmith.dev", sanitizeEmail(authorName))
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  authorName,
			Email: authorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit content: %w", err)
	}

	if fresh {
		if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("set main branch ref: %w", err)
		}
		if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("set HEAD to main: %w", err)
		}
	}
	return hash, nil
}

func listVersions(repo *git.Repository) ([]Version, error) {
	iter, err := repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer iter.Close()

	versions := make([]Version, 0)
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().Short()
		number, ok := parseTag(name)
		if !ok {
			return nil
		}
		hash := ref.Hash()
		if tagObj, err := repo.TagObject(hash); err == nil {
			hash = tagObj.Target
		}
		commitObj, err := repo.CommitObject(hash)
		if err != nil {
			return fmt.Errorf("load tagged commit %s: %w", name, err)
		}
		versions = append(versions, toVersion(number, name, commitObj))
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Number > versions[j].Number
	})
	return versions, nil
}

func parseTag(name string) (int, bool) {
	raw, ok := strings.CutPrefix(name, "v")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func readContentFromCommit(commitObj *object.Commit) (form.Content, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return form.Content{}, fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return form.Content{}, fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return form.Content{}, fmt.Errorf("read content bytes: %w", err)
	}

	var content form.Content
	if err := json.Unmarshal(raw, &content); err != nil {
		return form.Content{}, fmt.Errorf("decode commit content: %w", err)
	}
	return content, nil
}

func toVersion(number int, tag string, commitObj *object.Commit) Version {
	return Version{
		Number:    number,
		Tag:       tag,
		Hash:      commitObj.Hash.String(),
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
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

func resolveHash(repo *git.Repository, ref string) (plumbing.Hash, error) {
	if tagRef, err := repo.Tag(ref); err == nil {
		if tagObj, err := repo.TagObject(tagRef.Hash()); err == nil {
			return tagObj.Target, nil
		}
		return tagRef.Hash(), nil
	}
	if len(ref) == 40 {
		return plumbing.NewHash(ref), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve %s: %w", ref, err)
	}
	return *resolved, nil
}
