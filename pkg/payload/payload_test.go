package payload

import (
	"encoding/base64"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/fieldvision/region-analyzer/pkg/types"
)

// createTestImage creates a simple test image
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/3 && x < 2*width/3 && y > height/3 && y < 2*height/3 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{64, 64, 64, 255})
			}
		}
	}
	return img
}

func testRegions() []types.Region {
	return []types.Region{
		{ID: 5, Name: "north plot", Points: []types.Point{{X: 10, Y: 10}, {X: 50, Y: 10}, {X: 50, Y: 50}, {X: 10, Y: 50}}},
		{ID: 9, Name: "broken", Points: []types.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}},
		{ID: 12, Name: "south plot", Points: []types.Point{{X: 60, Y: 60}, {X: 90, Y: 60}, {X: 75, Y: 90}}},
	}
}

func TestNewDefaults(t *testing.T) {
	b := New()
	if b.config.Format != "jpg" || b.config.Quality != 95 {
		t.Errorf("unexpected defaults: %+v", b.config)
	}
}

func TestEncodeImageFormats(t *testing.T) {
	img := createTestImage(32, 32)

	for _, format := range []string{"jpg", "png", "webp"} {
		b := NewWithConfig(Config{Format: format, Quality: 90})
		encoded, err := b.EncodeImage(img)
		if err != nil {
			t.Fatalf("EncodeImage(%s) failed: %v", format, err)
		}
		if _, err := base64.StdEncoding.DecodeString(encoded); err != nil {
			t.Errorf("EncodeImage(%s) produced invalid base64: %v", format, err)
		}
	}
}

func TestBuild(t *testing.T) {
	b := New()
	req := types.InferenceRequest{
		Question: "Is the crop in the marked areas healthy?",
		Image:    createTestImage(100, 100),
		Regions:  testRegions(),
	}
	params := ModelParams{Model: "gpt-4o", Temperature: 0.7, MaxTokens: 2048}

	p, err := b.Build(req, params)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// The two-point region must be dropped everywhere.
	if len(p.Descriptors) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(p.Descriptors))
	}
	if len(p.Primary.Polygons) != 2 {
		t.Fatalf("expected 2 polygons, got %d", len(p.Primary.Polygons))
	}
	if len(p.Crops) != 2 {
		t.Fatalf("expected 2 crops, got %d", len(p.Crops))
	}

	// Primary body carries the verbatim question, not the composed prompt.
	if p.Primary.Prompt != req.Question {
		t.Errorf("primary prompt = %q, want verbatim question", p.Primary.Prompt)
	}
	if p.Primary.ChatHistoryMessages == nil || len(p.Primary.ChatHistoryMessages) != 0 {
		t.Error("chat_history_messages must be present and empty")
	}
	if p.Primary.ImageBase64 == "" {
		t.Error("primary image_base64 is empty")
	}

	// Polygon point order is preserved from the originating regions.
	if p.Primary.Polygons[0][0] != (types.Point{X: 10, Y: 10}) {
		t.Errorf("polygon 0 first point = %+v", p.Primary.Polygons[0][0])
	}
	if p.Primary.Polygons[1][2] != (types.Point{X: 75, Y: 90}) {
		t.Errorf("polygon 1 last point = %+v", p.Primary.Polygons[1][2])
	}

	// Crop tags are 1-based and sequential, independent of region ids.
	if p.Crops[0].Tag != "region1" || p.Crops[1].Tag != "region2" {
		t.Errorf("crop tags = %q, %q", p.Crops[0].Tag, p.Crops[1].Tag)
	}
}

func TestBuildFallbackShape(t *testing.T) {
	b := New()
	req := types.InferenceRequest{
		Question: "What disease is this?",
		Image:    createTestImage(100, 100),
		Regions:  testRegions(),
	}
	params := ModelParams{Model: "gpt-4o", Temperature: 0.5, MaxTokens: 1024}

	p, err := b.Build(req, params)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	fb := p.Fallback
	if fb.Model != "gpt-4o" || fb.Temperature != 0.5 || fb.MaxTokens != 1024 {
		t.Errorf("model params not stamped: %+v", fb)
	}
	if len(fb.Messages) != 1 || fb.Messages[0].Role != "user" {
		t.Fatalf("expected a single user message, got %+v", fb.Messages)
	}

	// Content order: prompt text, full image, then caption+crop per region.
	content := fb.Messages[0].Content
	wantBlocks := 2 + 2*len(p.Crops)
	if len(content) != wantBlocks {
		t.Fatalf("expected %d content blocks, got %d", wantBlocks, len(content))
	}
	if content[0].Type != "text" || content[0].Text != p.Prompt {
		t.Error("first block must be the composed prompt")
	}
	if content[1].Type != "image_url" || !strings.HasPrefix(content[1].ImageURL.URL, "data:image/jpeg;base64,") {
		t.Errorf("second block must be the full image data URL, got %q", content[1].Type)
	}
	for i, crop := range p.Crops {
		caption := content[2+2*i]
		img := content[3+2*i]
		if caption.Type != "text" || !strings.Contains(caption.Text, crop.Tag) {
			t.Errorf("crop %d caption missing tag: %q", i, caption.Text)
		}
		if img.Type != "image_url" || img.ImageURL == nil {
			t.Errorf("crop %d image block malformed", i)
		}
	}
}

func TestBuildPrompt(t *testing.T) {
	descriptors := []types.RegionDescriptor{
		{PointCount: 4},
		{PointCount: 7},
	}

	prompt := BuildPrompt("Is this wheat rust?", descriptors)

	if !strings.Contains(prompt, "User question: Is this wheat rust?") {
		t.Error("prompt missing verbatim question")
	}
	if !strings.Contains(prompt, "Region 1: contains 4 coordinate points") {
		t.Error("prompt missing region 1 enumeration")
	}
	if !strings.Contains(prompt, "Region 2: contains 7 coordinate points") {
		t.Error("prompt missing region 2 enumeration")
	}

	// No region enumeration when no regions exist.
	bare := BuildPrompt("What is this?", nil)
	if strings.Contains(bare, "Marked regions") {
		t.Error("region enumeration present without regions")
	}
}

func TestCropRegionsClamping(t *testing.T) {
	b := New()
	img := createTestImage(50, 50)

	// Region partially outside the image: bbox clamps to >= 0 and the
	// crop intersects the image bounds.
	regions := []types.Region{
		{ID: 1, Points: []types.Point{{X: -20, Y: -20}, {X: 30, Y: -20}, {X: 30, Y: 30}, {X: -20, Y: 30}}},
	}
	p, err := b.Build(types.InferenceRequest{Question: "q", Image: img, Regions: regions}, ModelParams{Model: "m"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(p.Crops) != 1 {
		t.Fatalf("expected 1 crop, got %d", len(p.Crops))
	}
	rect := p.Crops[0].Rect
	if rect.Min.X != 0 || rect.Min.Y != 0 || rect.Max.X != 30 || rect.Max.Y != 30 {
		t.Errorf("crop rect = %v, want (0,0)-(30,30)", rect)
	}
}

func TestBuildResizesOversizedImage(t *testing.T) {
	b := NewWithConfig(Config{Format: "png", MaxDim: 16})
	req := types.InferenceRequest{Question: "q", Image: createTestImage(64, 32)}

	p, err := b.Build(req, ModelParams{Model: "m"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(p.Primary.ImageBase64)
	if err != nil {
		t.Fatalf("invalid base64: %v", err)
	}
	cfg, _, err := image.DecodeConfig(strings.NewReader(string(raw)))
	if err != nil {
		t.Fatalf("decode config failed: %v", err)
	}
	if cfg.Width != 16 || cfg.Height != 8 {
		t.Errorf("resized to %dx%d, want 16x8", cfg.Width, cfg.Height)
	}
}
