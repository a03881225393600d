package mcp

import (
	"fmt"
	"strings"
)

// Tool names cross two boundaries with different charset rules. Model-facing
// function names use "server__tool" (OpenAI-compatible function names forbid
// colons and dots in some providers). Approval keys and UI labels use
// "server:tool".

// JoinToolName builds the model-facing namespaced function name.
func JoinToolName(serverID, toolName string) string {
	return serverID + "__" + toolName
}

// SplitToolName splits a model-facing "server__tool" name into
// (serverID, toolName, error). The split is on the first separator, so tool
// names containing "__" survive as long as the server id does not.
func SplitToolName(name string) (serverID, toolName string, err error) {
	idx := strings.Index(name, "__")
	if idx <= 0 || idx+2 >= len(name) {
		return "", "", fmt.Errorf(
			"invalid tool name %q: must be in 'server__tool' format "+
				"(e.g., 'filesystem__read_file')", name)
	}
	return name[:idx], name[idx+2:], nil
}

// ApprovalKey builds the composite key the approval registry tracks
// session-wide approvals under.
func ApprovalKey(serverID, toolName string) string {
	return serverID + ":" + toolName
}
