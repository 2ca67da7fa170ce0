package syncmanager

import "strings"

const bodyDocPrefix = "body:"

// bodyDocName builds the workspace-prefixed key a body document is
// addressed by (spec §3 "BodyDocument ... addressed by the
// workspace-prefixed key body:<workspaceId>/<canonicalPath>").
func bodyDocName(workspaceID, path string) string {
	return bodyDocPrefix + workspaceID + "/" + path
}

// pathFromBodyDocName extracts the canonical path from a body doc name
// produced by bodyDocName for this manager's workspace.
func pathFromBodyDocName(workspaceID, docName string) (string, bool) {
	prefix := bodyDocPrefix + workspaceID + "/"
	if !strings.HasPrefix(docName, prefix) {
		return "", false
	}
	return docName[len(prefix):], true
}

const workspaceDocPrefix = "workspace:"

func workspaceDocName(workspaceID string) string {
	return workspaceDocPrefix + workspaceID
}
