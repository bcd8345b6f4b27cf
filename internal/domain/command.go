package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// CommandType identifies a command variant.
type CommandType string

const (
	CommandCreateNode        CommandType = "CREATE_NODE"
	CommandUpdateNode        CommandType = "UPDATE_NODE"
	CommandDeleteNode        CommandType = "DELETE_NODE"
	CommandMarkNodeAsDraft   CommandType = "MARK_NODE_AS_DRAFT"
	CommandMarkNodeAsPending CommandType = "MARK_NODE_AS_PENDING"
	CommandPublishNode       CommandType = "PUBLISH_NODE"
	CommandUnpublishNode     CommandType = "UNPUBLISH_NODE"
	CommandLockNode          CommandType = "LOCK_NODE"
	CommandUnlockNode        CommandType = "UNLOCK_NODE"
	CommandExpireNode        CommandType = "EXPIRE_NODE"
	CommandRenameNode        CommandType = "RENAME_NODE"
	CommandUpdateNodeLabels  CommandType = "UPDATE_NODE_LABELS"
)

// Command is a request to mutate exactly one node.
type Command interface {
	CommandType() CommandType
	NodeRef() NodeRef
	ActorRef() string
}

// CommandBase carries identity and causation context shared by every
// command.
type CommandBase struct {
	Ref        NodeRef `json:"ref"`
	CtxUserRef string  `json:"ctx_user_ref"`
}

// NodeRef returns the target node identity.
func (c CommandBase) NodeRef() NodeRef { return c.Ref }

// ActorRef returns the causation user reference.
func (c CommandBase) ActorRef() string { return c.CtxUserRef }

// CreateNode requests creation of a new node from an initial snapshot.
type CreateNode struct {
	CommandBase
	Node Node `json:"node"`
}

func (CreateNode) CommandType() CommandType { return CommandCreateNode }

// UpdateNode requests replacement of the node's mutable content.
type UpdateNode struct {
	CommandBase
	Node Node `json:"node"`
}

func (UpdateNode) CommandType() CommandType { return CommandUpdateNode }

// DeleteNode soft-deletes by default; Hard removes the read-model row while
// retaining event history.
type DeleteNode struct {
	CommandBase
	Hard bool `json:"hard,omitempty"`
}

func (DeleteNode) CommandType() CommandType { return CommandDeleteNode }

type MarkNodeAsDraft struct {
	CommandBase
}

func (MarkNodeAsDraft) CommandType() CommandType { return CommandMarkNodeAsDraft }

type MarkNodeAsPending struct {
	CommandBase
}

func (MarkNodeAsPending) CommandType() CommandType { return CommandMarkNodeAsPending }

// PublishNode publishes now or schedules for PublishAt, depending on the
// anticipation threshold.
type PublishNode struct {
	CommandBase
	PublishAt *time.Time `json:"publish_at,omitempty"`
}

func (PublishNode) CommandType() CommandType { return CommandPublishNode }

type UnpublishNode struct {
	CommandBase
}

func (UnpublishNode) CommandType() CommandType { return CommandUnpublishNode }

// LockNode locks the node for the command's actor.
type LockNode struct {
	CommandBase
}

func (LockNode) CommandType() CommandType { return CommandLockNode }

type UnlockNode struct {
	CommandBase
}

func (UnlockNode) CommandType() CommandType { return CommandUnlockNode }

type ExpireNode struct {
	CommandBase
}

func (ExpireNode) CommandType() CommandType { return CommandExpireNode }

type RenameNode struct {
	CommandBase
	Slug string `json:"slug"`
}

func (RenameNode) CommandType() CommandType { return CommandRenameNode }

type UpdateNodeLabels struct {
	CommandBase
	Add    []string `json:"add,omitempty"`
	Remove []string `json:"remove,omitempty"`
}

func (UpdateNodeLabels) CommandType() CommandType { return CommandUpdateNodeLabels }

type commandEnvelope struct {
	Type    CommandType     `json:"type"`
	Command json.RawMessage `json:"command"`
}

// EncodeCommand serializes a command with a type tag, for durable delayed
// delivery through the scheduler.
func EncodeCommand(cmd Command) ([]byte, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.CommandType(), err)
	}
	return json.Marshal(commandEnvelope{Type: cmd.CommandType(), Command: body})
}

// DecodeCommand deserializes a command envelope produced by EncodeCommand.
func DecodeCommand(data []byte) (Command, error) {
	var env commandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode command envelope: %w", err)
	}

	var cmd Command
	switch env.Type {
	case CommandCreateNode:
		cmd = &CreateNode{}
	case CommandUpdateNode:
		cmd = &UpdateNode{}
	case CommandDeleteNode:
		cmd = &DeleteNode{}
	case CommandMarkNodeAsDraft:
		cmd = &MarkNodeAsDraft{}
	case CommandMarkNodeAsPending:
		cmd = &MarkNodeAsPending{}
	case CommandPublishNode:
		cmd = &PublishNode{}
	case CommandUnpublishNode:
		cmd = &UnpublishNode{}
	case CommandLockNode:
		cmd = &LockNode{}
	case CommandUnlockNode:
		cmd = &UnlockNode{}
	case CommandExpireNode:
		cmd = &ExpireNode{}
	case CommandRenameNode:
		cmd = &RenameNode{}
	case CommandUpdateNodeLabels:
		cmd = &UpdateNodeLabels{}
	default:
		return nil, fmt.Errorf("decode command: unknown type %q", env.Type)
	}
	if err := json.Unmarshal(env.Command, cmd); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return cmd, nil
}
