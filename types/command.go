// Package types defines core domain types for the Conduit runtime:
// outbound commands, inbound protocol frames, accumulated messages,
// and the opaque agent state.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// CommandType is the discriminator of a Command.
type CommandType string

// Command type constants.
const (
	CommandTypeAddMessage    CommandType = "add-message"
	CommandTypeAddToolResult CommandType = "add-tool-result"
)

// Command is a client-originated action awaiting transmission.
// The set of implementations is closed: AddMessageCommand and
// AddToolResultCommand. Commands are immutable once created.
type Command interface {
	CommandType() CommandType
	isCommand()
}

// Role identifies the author of a message.
type Role string

// Role constants.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// UserPartType is the discriminator of a UserMessagePart.
type UserPartType string

// User message part types.
const (
	UserPartText  UserPartType = "text"
	UserPartImage UserPartType = "image"
)

// UserMessagePart is one part of an outbound user message.
type UserMessagePart struct {
	// Type is the part discriminator.
	Type UserPartType `json:"type"`
	// Text is set for text parts.
	Text string `json:"text,omitempty"`
	// Image is an image URL or data URI, set for image parts.
	Image string `json:"image,omitempty"`
}

// TextPart returns a text user message part.
func TextPart(text string) UserMessagePart {
	return UserMessagePart{Type: UserPartText, Text: text}
}

// ImagePart returns an image user message part.
func ImagePart(image string) UserMessagePart {
	return UserMessagePart{Type: UserPartImage, Image: image}
}

// AddMessageCommand appends a new message to the conversation.
type AddMessageCommand struct {
	Role  Role
	Parts []UserMessagePart
}

// CommandType implements Command.
func (AddMessageCommand) CommandType() CommandType { return CommandTypeAddMessage }

func (AddMessageCommand) isCommand() {}

// AddToolResultCommand reports the outcome of a tool call.
type AddToolResultCommand struct {
	ToolCallID string
	ToolName   string
	Result     any
	IsError    bool
	// Artifact is an optional out-of-band value attached to the result.
	Artifact any
}

// CommandType implements Command.
func (AddToolResultCommand) CommandType() CommandType { return CommandTypeAddToolResult }

func (AddToolResultCommand) isCommand() {}

type addMessageWire struct {
	Type    CommandType `json:"type"`
	Message struct {
		Role  Role              `json:"role"`
		Parts []UserMessagePart `json:"parts"`
	} `json:"message"`
}

type addToolResultWire struct {
	Type       CommandType `json:"type"`
	ToolCallID string      `json:"toolCallId"`
	ToolName   string      `json:"toolName"`
	Result     any         `json:"result"`
	IsError    bool        `json:"isError"`
	Artifact   any         `json:"artifact,omitempty"`
}

// MarshalJSON encodes the command in its wire shape.
func (c AddMessageCommand) MarshalJSON() ([]byte, error) {
	var w addMessageWire
	w.Type = CommandTypeAddMessage
	w.Message.Role = c.Role
	w.Message.Parts = c.Parts
	if w.Message.Parts == nil {
		w.Message.Parts = []UserMessagePart{}
	}
	return json.Marshal(w)
}

// MarshalJSON encodes the command in its wire shape.
func (c AddToolResultCommand) MarshalJSON() ([]byte, error) {
	return json.Marshal(addToolResultWire{
		Type:       CommandTypeAddToolResult,
		ToolCallID: c.ToolCallID,
		ToolName:   c.ToolName,
		Result:     c.Result,
		IsError:    c.IsError,
		Artifact:   c.Artifact,
	})
}

// ErrUnknownCommand is returned when decoding a command with an unknown type.
var ErrUnknownCommand = errors.New("unknown command type")

// DecodeCommand decodes a command from its JSON wire shape.
func DecodeCommand(data []byte) (Command, error) {
	var probe struct {
		Type CommandType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode command type: %w", err)
	}

	switch probe.Type {
	case CommandTypeAddMessage:
		var w addMessageWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode add-message: %w", err)
		}
		return AddMessageCommand{Role: w.Message.Role, Parts: w.Message.Parts}, nil
	case CommandTypeAddToolResult:
		var w addToolResultWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode add-tool-result: %w", err)
		}
		return AddToolResultCommand{
			ToolCallID: w.ToolCallID,
			ToolName:   w.ToolName,
			Result:     w.Result,
			IsError:    w.IsError,
			Artifact:   w.Artifact,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, probe.Type)
	}
}

// NewUserMessage returns an AddMessageCommand authored by the user.
func NewUserMessage(parts ...UserMessagePart) AddMessageCommand {
	return AddMessageCommand{Role: RoleUser, Parts: parts}
}
