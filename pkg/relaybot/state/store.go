// Package state holds the per-conversation context relaybot consults when
// building prompts: the current branch label and the conversation's branch
// tree. Records are created lazily on first use and live as long as the
// backing store.
package state

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"
)

var (
	// ErrBranchExists is returned when creating a branch ID already in use.
	ErrBranchExists = errors.New("branch already exists")

	// ErrBranchNotFound is returned when a referenced branch does not exist.
	ErrBranchNotFound = errors.New("branch not found")

	// ErrInvalidBranchID is returned for IDs outside [A-Za-z0-9_-].
	ErrInvalidBranchID = errors.New("invalid branch id")
)

var branchIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidBranchID reports whether id is usable as a branch identifier.
func ValidBranchID(id string) bool {
	return branchIDPattern.MatchString(id)
}

// Context is the context record of one conversation.
type Context struct {
	// Key identifies the conversation ("<channel>:<chat id>").
	Key string

	// CurrentBranch is the branch label threaded into the system prompt.
	// Empty until a command sets it.
	CurrentBranch string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Branch is one node of a conversation's branch tree.
type Branch struct {
	ID          string
	Name        string
	Description string
	ParentID    string // empty for root branches
	SortOrder   int
	CreatedBy   string
	CreatedAt   time.Time
}

// Store is the conversation context registry.
type Store interface {
	// Get returns the context for key, creating an empty one if needed.
	Get(ctx context.Context, key string) (*Context, error)

	// SetCurrentBranch updates the branch label for key.
	SetCurrentBranch(ctx context.Context, key, branch string) error

	// CreateBranch adds a branch to key's tree. SortOrder is assigned after
	// the last sibling. Fails with ErrBranchExists, ErrBranchNotFound (parent)
	// or ErrInvalidBranchID.
	CreateBranch(ctx context.Context, key string, b Branch) (Branch, error)

	// Branches lists key's branches ordered by parent then sort order.
	Branches(ctx context.Context, key string) ([]Branch, error)

	// Close releases resources held by the store.
	Close() error
}

// Key builds a conversation key from a channel name and chat ID.
func Key(channel, chatID string) string {
	return channel + ":" + chatID
}

func validateBranch(b Branch) error {
	if !ValidBranchID(b.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidBranchID, b.ID)
	}
	if b.ParentID != "" && !ValidBranchID(b.ParentID) {
		return fmt.Errorf("%w: parent %q", ErrInvalidBranchID, b.ParentID)
	}
	return nil
}

func sortBranches(branches []Branch) {
	sort.SliceStable(branches, func(i, j int) bool {
		if branches[i].ParentID != branches[j].ParentID {
			return branches[i].ParentID < branches[j].ParentID
		}
		return branches[i].SortOrder < branches[j].SortOrder
	})
}
