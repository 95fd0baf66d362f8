package relay

// Chat commands are prefixed with "/" and may carry a "@botname" suffix:
//
//	/start                                         - Greeting
//	/help                                          - Show available commands
//	/new_branch <id> [--parent <id>] [--description "text"]
//	                                               - Create a branch and switch to it
//	/switch <id>                                   - Switch branch (created if missing)
//	/structure                                     - Show the branch tree
//
// Anything else starting with "/" is not a command and goes through the
// regular text track.

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/jholhewres/relaybot/pkg/relaybot/state"
)

// CommandResult contains the result of a command execution.
type CommandResult struct {
	// Command is the normalised command name.
	Command string

	// Response is the text to send back.
	Response string

	// Handled is true if the message was a known command.
	Handled bool
}

// IsCommand returns true if the message starts with "/".
func IsCommand(content string) bool {
	return strings.HasPrefix(strings.TrimSpace(content), "/")
}

// Commands executes chat commands against the conversation store.
type Commands struct {
	store         state.Store
	defaultBranch string
}

// NewCommands creates a command handler.
func NewCommands(store state.Store, defaultBranch string) *Commands {
	if defaultBranch == "" {
		defaultBranch = DefaultBranch
	}
	return &Commands{store: store, defaultBranch: defaultBranch}
}

// Handle runs the command in m. User mistakes are answered in the response;
// only store failures are returned as errors.
func (c *Commands) Handle(ctx context.Context, m *TextMessage) (CommandResult, error) {
	content := strings.TrimSpace(m.Text)
	if !IsCommand(content) {
		return CommandResult{}, nil
	}

	args := splitArgs(content)
	cmd := strings.ToLower(args[0])
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}
	args = args[1:]
	key := m.Conversation().Key()

	var (
		resp string
		err  error
	)
	switch cmd {
	case "/start":
		resp = c.startCommand(m)
	case "/help":
		resp = c.helpCommand()
	case "/new_branch":
		resp, err = c.newBranchCommand(ctx, key, args, m.SenderID)
	case "/switch":
		resp, err = c.switchCommand(ctx, key, args, m.SenderID)
	case "/structure":
		resp, err = c.structureCommand(ctx, key)
	default:
		return CommandResult{}, nil
	}
	if err != nil {
		return CommandResult{}, err
	}
	return CommandResult{Command: cmd, Response: resp, Handled: true}, nil
}

// --- Command implementations ---

func (c *Commands) startCommand(m *TextMessage) string {
	name := m.SenderName
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("Hi %s! Start a message with ! or mention me and I'll answer. Send /help for commands.", name)
}

func (c *Commands) helpCommand() string {
	var b strings.Builder
	b.WriteString("Commands:\n\n")
	b.WriteString("/new_branch <id> [--parent <id>] [--description \"text\"] - Create a branch and switch to it\n")
	b.WriteString("/switch <id> - Switch to a branch (created if missing)\n")
	b.WriteString("/structure - Show the branch tree\n")
	b.WriteString("/help - Show this message\n\n")
	b.WriteString("I answer messages starting with / ! or #, messages that mention me, and replies to my messages.")
	return b.String()
}

func (c *Commands) newBranchCommand(ctx context.Context, key string, args []string, sender string) (string, error) {
	var b state.Branch
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--parent", "--description":
			if !hasValue {
				if i+1 >= len(args) {
					return fmt.Sprintf("❌ %s needs a value", name), nil
				}
				i++
				value = args[i]
			}
			if name == "--parent" {
				b.ParentID = strings.ToLower(value)
			} else {
				b.Description = value
			}
		default:
			if b.ID != "" {
				return fmt.Sprintf("❌ unexpected argument %q", arg), nil
			}
			// IDs are case-insensitive, the typed form is kept as the name.
			b.ID, b.Name = strings.ToLower(arg), arg
		}
	}

	if b.ID == "" {
		return "Usage: /new_branch <id> [--parent <id>] [--description \"text\"]", nil
	}
	if !state.ValidBranchID(b.ID) {
		return fmt.Sprintf("❌ Invalid branch id %q. Use letters, digits, - and _ only.", b.ID), nil
	}
	if b.ParentID != "" && !state.ValidBranchID(b.ParentID) {
		return fmt.Sprintf("❌ Invalid parent id %q.", b.ParentID), nil
	}
	b.CreatedBy = sender

	created, err := c.store.CreateBranch(ctx, key, b)
	switch {
	case stderrors.Is(err, state.ErrBranchExists):
		return fmt.Sprintf("❌ Branch %s already exists", b.ID), nil
	case stderrors.Is(err, state.ErrBranchNotFound):
		return fmt.Sprintf("❌ Parent branch %s not found", b.ParentID), nil
	case err != nil:
		return "", fmt.Errorf("create branch %s: %w", b.ID, err)
	}

	if err := c.store.SetCurrentBranch(ctx, key, created.ID); err != nil {
		return "", fmt.Errorf("switch to %s: %w", created.ID, err)
	}

	if created.ParentID != "" {
		return fmt.Sprintf("✅ Branch %s created under %s. Current branch: %s", created.ID, created.ParentID, created.ID), nil
	}
	return fmt.Sprintf("✅ Branch %s created. Current branch: %s", created.ID, created.ID), nil
}

func (c *Commands) switchCommand(ctx context.Context, key string, args []string, sender string) (string, error) {
	if len(args) != 1 {
		return "Usage: /switch <id>", nil
	}
	id := strings.ToLower(args[0])
	if !state.ValidBranchID(id) {
		return fmt.Sprintf("❌ Invalid branch id %q. Use letters, digits, - and _ only.", id), nil
	}

	_, err := c.store.CreateBranch(ctx, key, state.Branch{ID: id, CreatedBy: sender})
	if err != nil && !stderrors.Is(err, state.ErrBranchExists) {
		return "", fmt.Errorf("create branch %s: %w", id, err)
	}
	if err := c.store.SetCurrentBranch(ctx, key, id); err != nil {
		return "", fmt.Errorf("switch to %s: %w", id, err)
	}
	return fmt.Sprintf("Switched to branch %s", id), nil
}

func (c *Commands) structureCommand(ctx context.Context, key string) (string, error) {
	branches, err := c.store.Branches(ctx, key)
	if err != nil {
		return "", fmt.Errorf("list branches: %w", err)
	}
	if len(branches) == 0 {
		return "No branches yet. Use /new_branch <id> to create one.", nil
	}

	sc, err := c.store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("load context: %w", err)
	}
	current := sc.CurrentBranch
	if current == "" {
		current = c.defaultBranch
	}

	children := make(map[string][]state.Branch)
	for _, b := range branches {
		children[b.ParentID] = append(children[b.ParentID], b)
	}

	var sb strings.Builder
	sb.WriteString("Branch structure:\n\n")
	var walk func(parent string, level int)
	walk = func(parent string, level int) {
		for _, b := range children[parent] {
			fmt.Fprintf(&sb, "%s• %s (%s)", strings.Repeat("  ", level), b.Name, b.ID)
			if b.ID == current {
				sb.WriteString(" ← current")
			}
			sb.WriteString("\n")
			walk(b.ID, level+1)
		}
	}
	walk("", 0)
	return strings.TrimRight(sb.String(), "\n"), nil
}

// splitArgs splits on whitespace, keeping double-quoted runs together.
func splitArgs(s string) []string {
	var (
		args    []string
		cur     strings.Builder
		inQuote bool
		hasTok  bool
	)
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			hasTok = true
		case !inQuote && (r == ' ' || r == '\t' || r == '\n'):
			if hasTok {
				args = append(args, cur.String())
				cur.Reset()
				hasTok = false
			}
		default:
			cur.WriteRune(r)
			hasTok = true
		}
	}
	if hasTok {
		args = append(args, cur.String())
	}
	return args
}
