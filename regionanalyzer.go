// Package regionanalyzer provides region-scoped visual question answering
// over remote multimodal models.
//
// Users mark polygonal regions of interest on an image and ask natural
// language questions about it. The library converts the drawn polygons into
// normalized geometric descriptors, assembles a multimodal request (full
// image, per-region crops, structured geometry and a composed prompt),
// dispatches it to the primary inference backend with an OpenAI-compatible
// fallback, and returns the textual answer.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		regionanalyzer "github.com/fieldvision/region-analyzer"
//		"github.com/fieldvision/region-analyzer/pkg/types"
//	)
//
//	func main() {
//		ra, err := regionanalyzer.New("config/model_config.json")
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer ra.Close()
//
//		if err := ra.Probe(context.Background()); err != nil {
//			log.Fatal(err)
//		}
//
//		img, err := ra.LoadImage("field.jpg")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		regions := []types.Region{{
//			ID:     1,
//			Name:   "affected area",
//			Points: []types.Point{{X: 120, Y: 80}, {X: 340, Y: 95}, {X: 300, Y: 260}, {X: 110, Y: 240}},
//		}}
//
//		answer, err := ra.Ask("Is the crop in this area diseased?", img, regions, nil)
//		if err != nil {
//			log.Fatal(err)
//		}
//		fmt.Println(answer)
//	}
//
// The package consists of five main components:
//
// 1. Geometry (pkg/geometry): pure polygon math (area, containment,
// simplification, mask rasterization and region descriptors)
// 2. Payload (pkg/payload): request body assembly for both wire contracts
// 3. Inference (pkg/inference): HTTP round trips with the primary-to-
// fallback escalation policy
// 4. Ollama (pkg/ollama): the local model type served by an Ollama server
// 5. Session (pkg/session): the cancellable task lifecycle and the single
// entry point for submissions
//
// Questions may reference drawn regions with <regionN> tags; validating the
// tags against known region ids is the caller's responsibility.
package regionanalyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/fieldvision/region-analyzer/internal/config"
	"github.com/fieldvision/region-analyzer/internal/utils"
	"github.com/fieldvision/region-analyzer/pkg/session"
	"github.com/fieldvision/region-analyzer/pkg/types"
)

// Version of the region analyzer library
const Version = "1.0.0"

// ErrCancelled is returned by Ask when the submission was superseded or
// cancelled before completing.
var ErrCancelled = errors.New("inference cancelled")

// RegionAnalyzer is the high-level interface for asking questions about
// images with marked regions.
type RegionAnalyzer struct {
	session *session.Session
	cfg     config.ModelConfig
}

// New creates a RegionAnalyzer from a JSON config file. A missing file is
// tolerated: the built-in defaults apply.
func New(configPath string) (*RegionAnalyzer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a RegionAnalyzer from an explicit configuration.
func NewWithConfig(cfg config.ModelConfig) (*RegionAnalyzer, error) {
	s, err := session.New(cfg)
	if err != nil {
		return nil, err
	}
	return &RegionAnalyzer{session: s, cfg: cfg}, nil
}

// Probe runs the readiness check now instead of waiting for the scheduled
// startup probe.
func (ra *RegionAnalyzer) Probe(ctx context.Context) error {
	return ra.session.Probe(ctx)
}

// LoadImage loads and validates an image file.
func (ra *RegionAnalyzer) LoadImage(path string) (image.Image, error) {
	if err := utils.ValidateImageFile(path); err != nil {
		return nil, err
	}
	return utils.LoadImage(path)
}

// LoadRegions reads a JSON file containing an array of regions.
func (ra *RegionAnalyzer) LoadRegions(path string) ([]types.Region, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read regions file: %w", err)
	}
	var regions []types.Region
	if err := json.Unmarshal(data, &regions); err != nil {
		return nil, fmt.Errorf("failed to parse regions file: %w", err)
	}
	return regions, nil
}

// Ask submits a question and blocks until the terminal outcome. Progress
// checkpoints are forwarded to onProgress when it is non-nil. A superseded
// or cancelled submission returns ErrCancelled.
func (ra *RegionAnalyzer) Ask(question string, img image.Image, regions []types.Region, onProgress func(int)) (string, error) {
	answerCh := make(chan string, 1)
	errCh := make(chan string, 1)

	task, err := ra.session.Submit(question, img, regions, session.Callbacks{
		OnProgress: onProgress,
		OnAnswer:   func(a string) { answerCh <- a },
		OnError:    func(e string) { errCh <- e },
	})
	if err != nil {
		return "", err
	}
	task.Wait()

	select {
	case answer := <-answerCh:
		return answer, nil
	case msg := <-errCh:
		return "", errors.New(msg)
	default:
		return "", ErrCancelled
	}
}

// Submit starts an asynchronous task directly, exposing the session's
// supersession semantics to callers that manage their own callbacks.
func (ra *RegionAnalyzer) Submit(question string, img image.Image, regions []types.Region, cb session.Callbacks) (*session.Task, error) {
	return ra.session.Submit(question, img, regions, cb)
}

// Cancel requests cancellation of the active task and waits for it to stop.
func (ra *RegionAnalyzer) Cancel() {
	ra.session.Cancel()
}

// Status reports readiness and model identity.
func (ra *RegionAnalyzer) Status() session.Status {
	return ra.session.Status()
}

// Close releases the underlying session.
func (ra *RegionAnalyzer) Close() {
	ra.session.Close()
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
