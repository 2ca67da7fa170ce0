package frontmatter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_RoundTrip(t *testing.T) {
	raw := "---\ntitle: Daily Note\npart_of: journal.md\ncustom_field: 42\n---\n# Hello\n\nBody text.\n"

	p, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "Daily Note", p.Title)
	require.Equal(t, "journal.md", p.PartOf)
	require.Equal(t, "# Hello\n\nBody text.\n", p.Body)
	require.Equal(t, 42, p.Extra["custom_field"])

	out, err := Serialize(p)
	require.NoError(t, err)

	reparsed, err := Parse(out)
	require.NoError(t, err)
	require.Equal(t, p.Title, reparsed.Title)
	require.Equal(t, p.PartOf, reparsed.PartOf)
	require.Equal(t, p.Body, reparsed.Body)
	require.Equal(t, p.Extra["custom_field"], reparsed.Extra["custom_field"])
}

func TestParse_NoFrontmatter(t *testing.T) {
	p, err := Parse("just a body\n")
	require.NoError(t, err)
	require.Equal(t, "just a body\n", p.Body)
	require.Empty(t, p.Title)
}

func TestParse_MissingClosingDelimiter(t *testing.T) {
	_, err := Parse("---\ntitle: x\nbody without close")
	require.Error(t, err)
}

func TestSerialize_PreservesAttachments(t *testing.T) {
	p := Parsed{
		Attachments: []Attachment{{Path: "_attachments/photo.png", Hash: "abc123", Size: 10}},
		Body:        "body\n",
		Extra:       map[string]any{},
	}
	out, err := Serialize(p)
	require.NoError(t, err)

	reparsed, err := Parse(out)
	require.NoError(t, err)
	require.Len(t, reparsed.Attachments, 1)
	require.Equal(t, "photo.png", reparsed.Attachments[0].Path[len("_attachments/"):])
	require.Equal(t, "abc123", reparsed.Attachments[0].Hash)
}

func TestCanonicalize_PlainCanonical(t *testing.T) {
	require.Equal(t, "notes/a.md", Canonicalize("./notes/a.md", "journal.md", FormatPlainCanonical))
	require.Equal(t, "a.md", Canonicalize("/a.md", "journal.md", FormatPlainCanonical))
}

func TestCanonicalize_PlainRelative(t *testing.T) {
	got := Canonicalize("../b.md", "notes/a.md", FormatPlainRelative)
	require.Equal(t, "b.md", got)
}

func TestCanonicalize_MarkdownRoot(t *testing.T) {
	got := Canonicalize("[See](/notes/a.md)", "journal.md", FormatMarkdownRoot)
	require.Equal(t, "notes/a.md", got)
}

func TestCanonicalize_MarkdownRelative(t *testing.T) {
	got := Canonicalize("[See](./b.md)", "notes/a.md", FormatMarkdownRelative)
	require.Equal(t, "notes/b.md", got)
}

func TestCanonicalize_ClampsEscapingDotDot(t *testing.T) {
	got := Canonicalize("../../etc/passwd", "a.md", FormatPlainRelative)
	require.NotContains(t, got, "..")
}

func TestDetectLinkFormat_OwnKeyWins(t *testing.T) {
	got := DetectLinkFormat("markdown root", []string{"plain relative"})
	require.Equal(t, FormatMarkdownRoot, got)
}

func TestDetectLinkFormat_FallsBackToAncestor(t *testing.T) {
	got := DetectLinkFormat("", []string{"plain relative"})
	require.Equal(t, FormatPlainRelative, got)
}

func TestDetectLinkFormat_DefaultsWhenNothingSet(t *testing.T) {
	got := DetectLinkFormat("", nil)
	require.Equal(t, DefaultLinkFormat, got)
}
