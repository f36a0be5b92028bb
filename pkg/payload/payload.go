// Package payload assembles multimodal inference request bodies from an
// image, its drawn regions and a user question. Two alternative shapes are
// produced for every request: the primary backend body carrying raw polygon
// coordinates, and an OpenAI-compatible chat-completion body carrying the
// composed prompt plus per-region crops.
package payload

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/fieldvision/region-analyzer/pkg/geometry"
	"github.com/fieldvision/region-analyzer/pkg/types"
)

// Builder encodes images and assembles request bodies.
type Builder struct {
	config Config
}

// Config holds encoding options for the payload builder.
type Config struct {
	// Format is the codec used for the full image and region crops:
	// jpg, png or webp.
	Format string
	// Quality applies to lossy codecs (1-100).
	Quality int
	// Lossless switches webp output to lossless mode.
	Lossless bool
	// MaxDim, when positive, limits the long side of the full image before
	// encoding. Crops are never resized.
	MaxDim int
}

// New creates a Builder with default encoding options (JPEG, quality 95).
func New() *Builder {
	return &Builder{config: Config{Format: "jpg", Quality: 95}}
}

// NewWithConfig creates a Builder with custom encoding options.
func NewWithConfig(config Config) *Builder {
	if config.Format == "" {
		config.Format = "jpg"
	}
	if config.Quality == 0 {
		config.Quality = 95
	}
	return &Builder{config: config}
}

// PrimaryRequest is the primary backend wire body. Prompt carries the
// verbatim user question; the primary backend composes its own prompt
// server-side from the polygon coordinates.
type PrimaryRequest struct {
	ImageBase64         string           `json:"image_base64"`
	Polygons            [][]types.Point  `json:"polygons"`
	Prompt              string           `json:"prompt"`
	ChatHistoryMessages []map[string]any `json:"chat_history_messages"`
}

// Message is an OpenAI-compatible chat message.
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is one block of a multimodal message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an image as a data URL.
type ImageURL struct {
	URL string `json:"url"`
}

// FallbackRequest is the OpenAI-compatible chat-completion wire body.
type FallbackRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// Payload is the fully assembled output of a build: both wire bodies plus
// the intermediate artifacts they were assembled from.
type Payload struct {
	Primary     PrimaryRequest
	Fallback    FallbackRequest
	Prompt      string
	Descriptors []types.RegionDescriptor
	Crops       []types.RegionCrop
}

// ModelParams are the generation parameters stamped into the fallback body.
type ModelParams struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Build assembles both request bodies for a submission. The full image is
// encoded once; each valid region contributes its polygon to the primary
// body and a bounding-box crop to the fallback body. Invalid regions
// (fewer than three points) are skipped everywhere.
func (b *Builder) Build(req types.InferenceRequest, params ModelParams) (*Payload, error) {
	bounds := req.Image.Bounds()
	imgW, imgH := bounds.Dx(), bounds.Dy()
	if imgW == 0 || imgH == 0 {
		return nil, fmt.Errorf("invalid image dimensions %dx%d", imgW, imgH)
	}

	full := req.Image
	if b.config.MaxDim > 0 && (imgW > b.config.MaxDim || imgH > b.config.MaxDim) {
		if imgW >= imgH {
			full = imaging.Resize(full, b.config.MaxDim, 0, imaging.Lanczos)
		} else {
			full = imaging.Resize(full, 0, b.config.MaxDim, imaging.Lanczos)
		}
	}

	imageB64, err := b.EncodeImage(full)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	descriptors := geometry.DescribeRegions(req.Regions, imgW, imgH)

	crops, err := b.CropRegions(req.Image, descriptors)
	if err != nil {
		return nil, err
	}

	prompt := BuildPrompt(req.Question, descriptors)

	polygons := make([][]types.Point, 0, len(descriptors))
	for _, d := range descriptors {
		polygons = append(polygons, d.Points)
	}

	primary := PrimaryRequest{
		ImageBase64:         imageB64,
		Polygons:            polygons,
		Prompt:              req.Question,
		ChatHistoryMessages: []map[string]any{},
	}

	fallback := b.buildFallback(prompt, imageB64, crops, params)

	return &Payload{
		Primary:     primary,
		Fallback:    fallback,
		Prompt:      prompt,
		Descriptors: descriptors,
		Crops:       crops,
	}, nil
}

// CropRegions cuts one bounding-box crop per descriptor and encodes it.
// The crop is the axis-aligned bounding box of the region's points, clamped
// to >= 0; a precise polygon mask is deliberately not applied.
func (b *Builder) CropRegions(img image.Image, descriptors []types.RegionDescriptor) ([]types.RegionCrop, error) {
	crops := make([]types.RegionCrop, 0, len(descriptors))
	for i, d := range descriptors {
		x1 := maxInt(int(d.BBox.XMin), 0)
		y1 := maxInt(int(d.BBox.YMin), 0)
		x2 := int(d.BBox.XMax)
		y2 := int(d.BBox.YMax)

		rect := image.Rect(x1, y1, x2, y2).Intersect(img.Bounds())
		if rect.Empty() {
			continue
		}

		cropped := imaging.Crop(img, rect)
		encoded, err := b.EncodeImage(cropped)
		if err != nil {
			return nil, fmt.Errorf("failed to encode crop for region %d: %w", d.ID, err)
		}

		crops = append(crops, types.RegionCrop{
			Tag:          fmt.Sprintf("region%d", i+1),
			Rect:         rect,
			EncodedImage: encoded,
		})
	}
	return crops, nil
}

// EncodeImage encodes an image with the configured codec and returns it as
// a base64 string.
func (b *Builder) EncodeImage(img image.Image) (string, error) {
	var buf bytes.Buffer
	switch strings.ToLower(b.config.Format) {
	case "png":
		if err := png.Encode(&buf, img); err != nil {
			return "", err
		}
	case "webp":
		opts := &webp.Options{Lossless: b.config.Lossless, Quality: float32(b.config.Quality)}
		if err := webp.Encode(&buf, img, opts); err != nil {
			return "", err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: b.config.Quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// MimeFormat returns the image format name used in data URLs.
func (b *Builder) MimeFormat() string {
	switch strings.ToLower(b.config.Format) {
	case "png":
		return "png"
	case "webp":
		return "webp"
	default:
		return "jpeg"
	}
}

func (b *Builder) buildFallback(prompt, imageB64 string, crops []types.RegionCrop, params ModelParams) FallbackRequest {
	mime := b.MimeFormat()

	content := []ContentPart{
		{Type: "text", Text: prompt},
		{Type: "image_url", ImageURL: &ImageURL{URL: dataURL(mime, imageB64)}},
	}
	for _, crop := range crops {
		caption := fmt.Sprintf("The following image is the cropped <%s> area (bbox=(%d, %d, %d, %d)).",
			crop.Tag, crop.Rect.Min.X, crop.Rect.Min.Y, crop.Rect.Max.X, crop.Rect.Max.Y)
		content = append(content,
			ContentPart{Type: "text", Text: caption},
			ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: dataURL(mime, crop.EncodedImage)}},
		)
	}

	return FallbackRequest{
		Model:       params.Model,
		Messages:    []Message{{Role: "user", Content: content}},
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	}
}

func dataURL(mime, b64 string) string {
	return fmt.Sprintf("data:image/%s;base64,%s", mime, b64)
}

// BuildPrompt composes the natural-language prompt sent to the fallback
// backend: a fixed role preamble, an enumeration of region point counts when
// any regions exist, the verbatim user question, and the response-format
// instruction.
func BuildPrompt(question string, descriptors []types.RegionDescriptor) string {
	var sb strings.Builder

	sb.WriteString("You are a professional agricultural vision analysis assistant. ")
	sb.WriteString("Answer the user's question based on the provided image.\n\n")
	sb.WriteString("Image information:\n")
	sb.WriteString("- This is an agriculture-related photograph\n")
	sb.WriteString("- The user may have marked regions of interest on the image\n\n")

	if len(descriptors) > 0 {
		sb.WriteString("Marked regions:\n")
		for i, d := range descriptors {
			fmt.Fprintf(&sb, "Region %d: contains %d coordinate points\n", i+1, d.PointCount)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "User question: %s\n\n", question)

	sb.WriteString("Provide a professional, detailed answer. ")
	sb.WriteString("If the question concerns specific regions, analyze them using the region information.\n")
	sb.WriteString("Response requirements:\n")
	sb.WriteString("1. Answer in the same language as the question\n")
	sb.WriteString("2. Be professional and accurate\n")
	sb.WriteString("3. For agricultural diagnoses, give concrete recommendations\n")
	sb.WriteString("4. Keep the answer structured and readable")

	return sb.String()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
