package chunker

import (
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

const sentence = "The quick brown fox jumps over the lazy dog. "

func TestNewDefaultsAndOptions(t *testing.T) {
	c := New()
	require.Equal(t, DefaultSize, c.Size())
	require.Equal(t, DefaultOverlap, c.Overlap())

	c = New(WithSize(200), WithOverlap(20))
	require.Equal(t, 200, c.Size())
	require.Equal(t, 20, c.Overlap())

	c = New(WithSize(100), WithOverlap(150))
	require.Equal(t, 25, c.Overlap())

	c = New(WithSize(-1), WithOverlap(-1))
	require.Equal(t, DefaultSize, c.Size())
	require.Equal(t, DefaultOverlap, c.Overlap())
}

func TestNormalize(t *testing.T) {
	require.Equal(t, "a\nb\nc", Normalize("a\r\nb\rc"))
	require.Equal(t, "a\n\nb", Normalize("a\n\n\n\n\nb"))
	require.Equal(t, "a\n\nb", Normalize("a\r\n\r\n\r\n\r\nb"))
	require.Equal(t, "a\n\nb", Normalize("a\n\nb"))
}

func TestSplitShortText(t *testing.T) {
	require.Equal(t, []string{"hello world."}, Split("  hello world.  ", 800, 100))
	require.Nil(t, Split("   \n\n  ", 800, 100))
	require.Nil(t, Split("", 800, 100))
}

func TestSplitMeasuresNormalizedText(t *testing.T) {
	// 790 visible runes plus a CRLF run that normalizes to a single blank line
	raw := strings.Repeat("a", 395) + "\r\n\r\n\r\n\r\n\r\n" + strings.Repeat("b", 395)
	chunks := Split(raw, 800, 100)
	require.Len(t, chunks, 1)
	require.Equal(t, strings.Repeat("a", 395)+"\n\n"+strings.Repeat("b", 395), chunks[0])
}

func TestSplitScenario2500Chars(t *testing.T) {
	text := strings.Repeat(sentence, 56)[:2500]
	chunks := Split(text, 800, 100)
	require.Len(t, chunks, 4)
	for i, chunk := range chunks {
		require.LessOrEqual(t, utf8.RuneCountInString(chunk), 800)
		if i < len(chunks)-1 {
			require.True(t, strings.HasSuffix(chunk, "."), "chunk %d should end on a sentence boundary", i)
			tail := chunk[len(chunk)-90:]
			require.Contains(t, chunks[i+1], tail, "chunk %d should share its tail with the next chunk", i)
		}
	}
}

func TestSplitWithoutBoundariesKeepsFullWindows(t *testing.T) {
	chunks := Split(strings.Repeat("x", 2500), 800, 100)
	require.Len(t, chunks, 4)
	require.Len(t, chunks[0], 800)
	require.Len(t, chunks[1], 800)
	require.Len(t, chunks[2], 800)
	require.Len(t, chunks[3], 400)
}

func TestSplitIgnoresBoundaryInsideOverlap(t *testing.T) {
	chunks := Split("Hi."+strings.Repeat("b", 1000), 800, 100)
	require.Len(t, chunks, 2)
	require.Len(t, chunks[0], 800)
	require.True(t, strings.HasPrefix(chunks[0], "Hi.b"))
	require.Len(t, chunks[1], 303)
}

func TestSplitIsDeterministic(t *testing.T) {
	text := strings.Repeat("Alpha beta gamma! Delta epsilon? Zeta eta theta.\n", 120)
	require.Equal(t, Split(text, 300, 50), Split(text, 300, 50))
}

func TestSplitMultiByteRunes(t *testing.T) {
	text := strings.Repeat("知识库检索。", 300)
	chunks := Split(text, 100, 10)
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		require.True(t, utf8.ValidString(chunk))
		require.LessOrEqual(t, utf8.RuneCountInString(chunk), 100)
	}
}

func TestSplitTerminates(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
	}{
		{name: "shorter than overlap", text: "abc", size: 10, overlap: 8},
		{name: "boundary at window start", text: strings.Repeat(".xxxxxxxxxxxxxxxxxxx", 50), size: 20, overlap: 10},
		{name: "only terminators", text: strings.Repeat(".", 5000), size: 800, overlap: 100},
		{name: "only newlines", text: strings.Repeat("a\n", 3000), size: 50, overlap: 49},
		{name: "overlap equals size", text: strings.Repeat("y", 1000), size: 100, overlap: 100},
		{name: "zero overlap", text: strings.Repeat(sentence, 40), size: 120, overlap: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := Split(tt.text, tt.size, tt.overlap)
			// every window advances by at least one rune
			require.LessOrEqual(t, len(chunks), utf8.RuneCountInString(Normalize(tt.text)))
		})
	}
}

func TestSplitCoversAllText(t *testing.T) {
	texts := []string{
		strings.Repeat(sentence, 80),
		strings.Repeat("Line one\nLine two is longer than one!\n\n\n\nParagraph? ", 60),
		strings.Repeat("z", 3333),
	}
	for _, text := range texts {
		normalized := Normalize(text)
		chunks := Split(text, 250, 40)
		covered := make([]bool, len(normalized))
		cursor := 0
		for _, chunk := range chunks {
			idx := strings.Index(normalized[cursor:], chunk)
			require.GreaterOrEqual(t, idx, 0, "chunk not found in order")
			begin := cursor + idx
			for i := begin; i < begin+len(chunk); i++ {
				covered[i] = true
			}
			// the next window starts no earlier than this chunk's end minus the overlap
			cursor = begin + len(chunk) - 40
			if cursor <= begin {
				cursor = begin + 1
			}
		}
		for i, r := range normalized {
			if !covered[i] {
				require.True(t, unicode.IsSpace(r), "rune %q at %d not covered", r, i)
			}
		}
	}
}
