package frontmatter

import (
	"path"
	"strings"
)

// LinkFormat is one of the four ways a reference to another file may be
// written in frontmatter (spec §4.6 "Link format (...) is detected from
// (1) this file's link_format key, else (2) nearest ancestor index file's
// key, else the default").
type LinkFormat string

const (
	// FormatMarkdownRoot writes references as Markdown links rooted at
	// the workspace, e.g. "[title](/notes/a.md)".
	FormatMarkdownRoot LinkFormat = "markdown root"
	// FormatMarkdownRelative writes references as Markdown links relative
	// to the referencing file, e.g. "[title](../a.md)".
	FormatMarkdownRelative LinkFormat = "markdown relative"
	// FormatPlainRelative writes a bare path relative to the referencing
	// file, e.g. "../a.md".
	FormatPlainRelative LinkFormat = "plain relative"
	// FormatPlainCanonical writes a bare workspace-canonical path, e.g.
	// "notes/a.md". This is the default when nothing else applies.
	FormatPlainCanonical LinkFormat = "plain canonical"
)

// DefaultLinkFormat is used when neither the file itself nor any ancestor
// index file specifies link_format.
const DefaultLinkFormat = FormatPlainCanonical

// Canonicalize converts ref (written from the perspective of a file at
// fromPath, in the given format) into a canonical path: forward-slash
// separated, no leading "./" or "/", no "..", workspace-relative (spec §3
// "CanonicalPath").
func Canonicalize(ref string, fromPath string, format LinkFormat) string {
	raw := ref
	switch format {
	case FormatMarkdownRoot, FormatMarkdownRelative:
		if target, ok := extractMarkdownLinkTarget(ref); ok {
			raw = target
		}
	}

	switch format {
	case FormatMarkdownRoot:
		raw = strings.TrimPrefix(raw, "/")
		return cleanCanonical(raw)
	case FormatMarkdownRelative, FormatPlainRelative:
		dir := path.Dir(fromPath)
		if dir == "." {
			dir = ""
		}
		return cleanCanonical(path.Join(dir, raw))
	default: // FormatPlainCanonical and any unrecognized format
		return cleanCanonical(raw)
	}
}

// cleanCanonical normalizes "." segments and leading slashes and collapses
// ".." against the preceding segment without ever escaping the workspace
// root (a malformed "../../x" from outside the tree clamps to "x").
func cleanCanonical(p string) string {
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimPrefix(p, "/")
	cleaned := path.Clean(p)
	cleaned = strings.TrimPrefix(cleaned, "/")

	parts := strings.Split(cleaned, "/")
	var out []string
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, part)
		}
	}
	return strings.Join(out, "/")
}

// extractMarkdownLinkTarget pulls the URL out of "[text](url)"; ok is
// false if ref does not look like a Markdown link, in which case callers
// fall back to treating ref as a bare path.
func extractMarkdownLinkTarget(ref string) (string, bool) {
	openParen := strings.LastIndex(ref, "(")
	if openParen < 0 || !strings.HasSuffix(ref, ")") {
		return "", false
	}
	if !strings.HasPrefix(ref, "[") {
		return "", false
	}
	return ref[openParen+1 : len(ref)-1], true
}

// DetectLinkFormat resolves the effective link format for a file: its own
// link_format key, else the nearest ancestor index file's key, else the
// default (spec §4.6). ancestorFormats is the link_format value of each
// ancestor index file, ordered nearest-first (caller walks the tree and
// locates each level's index file; that lookup is filesystem-bridge
// policy, not this package's concern).
func DetectLinkFormat(own string, ancestorFormats []string) LinkFormat {
	if f := LinkFormat(own); own != "" && isKnownFormat(f) {
		return f
	}
	for _, a := range ancestorFormats {
		if f := LinkFormat(a); a != "" && isKnownFormat(f) {
			return f
		}
	}
	return DefaultLinkFormat
}

func isKnownFormat(f LinkFormat) bool {
	switch f {
	case FormatMarkdownRoot, FormatMarkdownRelative, FormatPlainRelative, FormatPlainCanonical:
		return true
	default:
		return false
	}
}
