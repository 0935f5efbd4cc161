package llm

import (
	"context"
	"fmt"
	"time"
)

// Conversation represents a conversation with context and history
// Used for corrective follow-ups where the model must see its previous answer
//
// client: The LLM client
// systemPrompt: System prompt for the conversation context
// messages: History of messages in the conversation
// maxHistory: Maximum number of messages to keep in history
type Conversation struct {
	client       *Client
	systemPrompt string
	messages     []Message
	maxHistory   int
	createdAt    time.Time
	updatedAt    time.Time
}

// NewConversation creates a new conversation with the given client and system prompt
//
// client: The LLM client
// systemPrompt: System prompt for the conversation context
// maxHistory: Maximum number of messages to keep in history (default: 100)
//
// Example:
//
//	conv := llm.NewConversation(client, "You are a literary translator.", 8)
func NewConversation(client *Client, systemPrompt string, maxHistory int) *Conversation {
	if maxHistory <= 0 {
		maxHistory = 100
	}

	return &Conversation{
		client:       client,
		systemPrompt: systemPrompt,
		messages:     make([]Message, 0),
		maxHistory:   maxHistory,
		createdAt:    time.Now(),
		updatedAt:    time.Now(),
	}
}

// SendMessage sends a message in the conversation and gets a response
func (c *Conversation) SendMessage(ctx context.Context, content string) (string, error) {
	return c.SendMessageWithOptions(ctx, content, nil)
}

// SendMessageWithOptions sends a message with additional options. The
// system prompt of the conversation always wins over opts.SystemPrompt.
//
// Returns the assistant's response content or an error. A failed call
// leaves the user message out of the history.
func (c *Conversation) SendMessageWithOptions(ctx context.Context, content string, opts *ChatCompletionOptions) (string, error) {
	c.addMessage(Message{Role: "user", Content: content})
	messages := c.prepareMessages()

	completionOpts := NewChatCompletionOptions()
	if opts != nil {
		copied := *opts
		completionOpts = &copied
	}
	completionOpts.SystemPrompt = ""

	response, err := c.client.ChatCompletion(ctx, messages, completionOpts)
	if err != nil {
		c.messages = c.messages[:len(c.messages)-1]
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	assistantContent, err := response.Content()
	if err != nil {
		c.messages = c.messages[:len(c.messages)-1]
		return "", err
	}

	c.addMessage(Message{Role: "assistant", Content: assistantContent})
	c.updatedAt = time.Now()

	return assistantContent, nil
}

// ClearHistory clears the conversation history
// Keeps the system prompt but removes all messages
func (c *Conversation) ClearHistory() {
	c.messages = make([]Message, 0)
	c.updatedAt = time.Now()
}

// GetHistory returns the conversation history
func (c *Conversation) GetHistory() []Message {
	history := make([]Message, len(c.messages))
	copy(history, c.messages)
	return history
}

// GetMessageCount returns the number of messages in the conversation
func (c *Conversation) GetMessageCount() int {
	return len(c.messages)
}

// addMessage adds a message to the history, maintaining max history limit
func (c *Conversation) addMessage(msg Message) {
	c.messages = append(c.messages, msg)

	if len(c.messages) > c.maxHistory {
		excess := len(c.messages) - c.maxHistory
		c.messages = c.messages[excess:]
	}
}

// prepareMessages prepares messages for the API, including system prompt
func (c *Conversation) prepareMessages() []Message {
	messages := make([]Message, 0, len(c.messages)+1)

	if c.systemPrompt != "" {
		messages = append(messages, Message{
			Role:    "system",
			Content: c.systemPrompt,
		})
	}

	return append(messages, c.messages...)
}
