// Package panel implements the transport-agnostic UI message protocol.
//
// Inbound commands arrive as JSON objects with a "command" discriminator;
// outbound events carry either a refreshed tree or a chunk of streamed
// assistant output. The dispatcher binds commands to the context store,
// the prompt assembler, the request orchestrator and the symbol indexer.
package panel

import (
	"encoding/json"

	"github.com/easyops/aicontext-go/pkg/core/errors"
)

// 入站命令名
const (
	CommandGetTreeData       = "getTreeData"
	CommandToggleItem        = "toggleItem"
	CommandRemoveItem        = "removeItem"
	CommandRemoveAllItems    = "removeAllItems"
	CommandToggleCategory    = "toggleCategory"
	CommandSendMessage       = "sendMessage"
	CommandClearConversation = "clearConversation"
	CommandIndex             = "index"
)

// 出站事件名
const (
	EventUpdateTreeView = "updateTreeView"
	EventOutputText     = "outputText"
)

// Command 入站命令
//
// 字段按命令种类选用：树操作用 Category/Item/Enabled，
// 聊天用 Text/AIMessageID。
type Command struct {
	Command     string `json:"command"`
	Category    string `json:"category,omitempty"`
	Item        string `json:"item,omitempty"`
	Enabled     bool   `json:"enabled,omitempty"`
	Text        string `json:"text,omitempty"`
	AIMessageID string `json:"aiMessageId,omitempty"`
}

// ParseCommand 解析一条入站命令
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, errors.WrapError(errors.ErrParse, err.Error())
	}
	if cmd.Command == "" {
		return Command{}, errors.WrapError(errors.ErrInvalidArgument, "missing command field")
	}
	return cmd, nil
}

// Event 出站事件
type Event struct {
	Command     string          `json:"command"`
	TreeData    json.RawMessage `json:"treeData,omitempty"`
	Text        string          `json:"text,omitempty"`
	AIMessageID string          `json:"aiMessageId,omitempty"`
}

// Transport 出站事件投递依赖
//
// 具体实现由宿主提供（WebSocket、进程内通道等）。
type Transport interface {
	Post(event Event)
}
