package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fieldvision/region-analyzer/internal/config"
	"github.com/fieldvision/region-analyzer/internal/utils"
	"github.com/fieldvision/region-analyzer/pkg/geometry"
	"github.com/fieldvision/region-analyzer/pkg/session"
	"github.com/fieldvision/region-analyzer/pkg/types"
)

func main() {
	var imagePath, regionsPath, question, configPath string
	var simplify float64
	var probeTimeout time.Duration
	var showRegions bool

	flag.StringVar(&imagePath, "image", "", "input image path (jpg/png/bmp/tiff/webp)")
	flag.StringVar(&regionsPath, "regions", "", "JSON file with marked regions (optional)")
	flag.StringVar(&question, "question", "", "question to ask about the image")
	flag.StringVar(&configPath, "config", "config/model_config.json", "model config file")
	flag.Float64Var(&simplify, "simplify", 0, "polygon simplification tolerance in pixels, 0=off")
	flag.DurationVar(&probeTimeout, "probe-timeout", 15*time.Second, "readiness probe timeout")
	flag.BoolVar(&showRegions, "show-regions", false, "print region descriptors before submitting")

	flag.Parse()
	if imagePath == "" || question == "" {
		log.Fatalf("usage: %s -image field.jpg -question \"...\" [-regions regions.json] [-config path] [-simplify 2.0]",
			filepath.Base(os.Args[0]))
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := utils.ValidateImageFile(imagePath); err != nil {
		log.Fatal(err)
	}
	img, err := utils.LoadImage(imagePath)
	if err != nil {
		log.Fatalf("failed to load image: %v", err)
	}
	bounds := img.Bounds()

	var regions []types.Region
	if regionsPath != "" {
		regions, err = loadRegions(regionsPath)
		if err != nil {
			log.Fatal(err)
		}
	}

	if simplify > 0 {
		for i := range regions {
			before := len(regions[i].Points)
			regions[i].Points = geometry.SimplifyPolygon(regions[i].Points, simplify)
			log.Printf("region %d simplified: %d -> %d points", regions[i].ID, before, len(regions[i].Points))
		}
	}

	if showRegions {
		for _, d := range geometry.DescribeRegions(regions, bounds.Dx(), bounds.Dy()) {
			log.Printf("region %d %q: area=%.1f (%.2f%% of image) center=(%.1f,%.1f) points=%d",
				d.ID, d.Name, d.Area, d.RelativeArea*100, d.Center.X, d.Center.Y, d.PointCount)
		}
	}

	s, err := session.New(cfg)
	if err != nil {
		log.Fatalf("failed to create session: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	if err := s.Probe(ctx); err != nil {
		log.Fatalf("model not ready: %v", err)
	}
	st := s.Status()
	log.Printf("model ready: type=%s name=%s", st.ModelType, st.ModelName)

	answerCh := make(chan string, 1)
	errCh := make(chan string, 1)
	task, err := s.Submit(question, img, regions, session.Callbacks{
		OnProgress: func(p int) { log.Printf("progress: %d%%", p) },
		OnAnswer:   func(a string) { answerCh <- a },
		OnError:    func(e string) { errCh <- e },
	})
	if err != nil {
		log.Fatalf("submit failed: %v", err)
	}
	task.Wait()

	select {
	case answer := <-answerCh:
		fmt.Println(answer)
	case msg := <-errCh:
		log.Fatalf("inference failed: %s", msg)
	default:
		log.Fatal("inference cancelled")
	}
}

func loadRegions(path string) ([]types.Region, error) {
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
