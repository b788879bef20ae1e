package chat

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 7 {
		for y := 0; y < h; y += 5 {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodedBounds(t *testing.T, b64 string) image.Rectangle {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	return img.Bounds()
}

func TestBuildPrompt_Order(t *testing.T) {
	history := []Message{
		NewUserMessage("Hello", nil),
		NewAssistantMessage("Hi!"),
		NewUserMessage("How are you?", nil),
		NewAssistantMessage("Fine."),
	}

	got := BuildPrompt(history, "Tell me a joke", nil, "Be terse.")
	require.Len(t, got, 6)
	assert.Equal(t, RoleMessage{Role: RoleSystem, Content: "Be terse."}, got[0])
	assert.Equal(t, RoleMessage{Role: RoleUser, Content: "Hello"}, got[1])
	assert.Equal(t, RoleMessage{Role: RoleAssistant, Content: "Hi!"}, got[2])
	assert.Equal(t, RoleMessage{Role: RoleUser, Content: "How are you?"}, got[3])
	assert.Equal(t, RoleMessage{Role: RoleAssistant, Content: "Fine."}, got[4])
	assert.Equal(t, RoleMessage{Role: RoleUser, Content: "Tell me a joke"}, got[5])
}

func TestBuildPrompt_DefaultInstruction(t *testing.T) {
	got := BuildPrompt(nil, "hi", nil, "  ")
	require.Len(t, got, 2)
	assert.Equal(t, DefaultInstruction, got[0].Content)
}

func TestBuildPrompt_AttachesImageToNewTurnOnly(t *testing.T) {
	history := []Message{NewUserMessage("earlier", pngBytes(t, 10, 10)), NewAssistantMessage("ok")}

	got := BuildPrompt(history, "what is this?", pngBytes(t, 32, 16), "")
	require.Len(t, got, 4)
	assert.Empty(t, got[1].Images)
	require.Len(t, got[3].Images, 1)
	assert.Equal(t, image.Rect(0, 0, 32, 16), decodedBounds(t, got[3].Images[0]))
}

func TestBuildPrompt_UnreadableImageDropped(t *testing.T) {
	got := BuildPrompt(nil, "look", []byte("not an image"), "")
	require.Len(t, got, 2)
	assert.Empty(t, got[1].Images)
	assert.Equal(t, "look", got[1].Content)
}

func TestEncodeImage_ScalesLongerEdge(t *testing.T) {
	wide, err := EncodeImage(pngBytes(t, 2048, 1024))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 1024, 512), decodedBounds(t, wide))

	tall, err := EncodeImage(pngBytes(t, 600, 3000))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 205, 1024), decodedBounds(t, tall))
}

func TestEncodeImage_Deterministic(t *testing.T) {
	src := pngBytes(t, 1500, 900)
	a, err := EncodeImage(src)
	require.NoError(t, err)
	b, err := EncodeImage(src)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEncodeImage_InvalidInput(t *testing.T) {
	_, err := EncodeImage([]byte{0x01, 0x02})
	require.Error(t, err)
}

func TestComposeContent(t *testing.T) {
	assert.Equal(t, "hello", ComposeContent("  hello \n"))
	assert.Equal(t, "[PDF document]\npage one", ComposeContent("", Attachment{Kind: AttachmentPDF, Text: "page one"}))
	assert.Equal(t,
		"summarize\n\n[PDF document]\np\n\n[Text file]\nt",
		ComposeContent("summarize", Attachment{Kind: AttachmentPDF, Text: "p"}, Attachment{Kind: AttachmentText, Text: "t"}))
}
