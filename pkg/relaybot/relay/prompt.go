package relay

import "fmt"

// DefaultBranch labels conversations that never selected a branch.
const DefaultBranch = "main"

const replyPromptTemplate = "You are a helpful assistant specialized in MegaDoc project management. " +
	"You don't respond to any request, unless request either calling your name or giving the ! or ? mark " +
	"in the start of message. You are currently in the %s branch."

// ReactionSystemPrompt tells the model a reaction note needs no answer.
const ReactionSystemPrompt = "You are helpful assistant, and you received a reaction. " +
	"No need to respond to it, just know that someone reacted to the message."

// ReplySystemPrompt renders the reply-track instruction for branch.
func ReplySystemPrompt(branch string) string {
	return fmt.Sprintf(replyPromptTemplate, branch)
}
