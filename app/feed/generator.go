package feed

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/lysyi3m/rpde-comb/app/cfg"
)

// CollatedFeed is one feed's entry in the collated export.
type CollatedFeed struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	Cursor    string `json:"cursor"`
	ItemCount int    `json:"item_count"`
	Items     []Item `json:"items"`
}

type collatedDocument struct {
	Generator   string         `json:"generator"`
	GeneratedAt time.Time      `json:"generated_at"`
	Feeds       []CollatedFeed `json:"feeds"`
}

// Generator renders collated snapshots for read-only consumers.
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

func (g *Generator) Run(feeds []CollatedFeed) ([]byte, error) {
	for i := range feeds {
		feeds[i].ItemCount = len(feeds[i].Items)
		if feeds[i].Items == nil {
			feeds[i].Items = []Item{}
		}
	}

	doc := collatedDocument{
		Generator:   fmt.Sprintf("RPDE-Comb/%s", cfg.GetVersion()),
		GeneratedAt: time.Now().In(time.Local),
		Feeds:       feeds,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode collated snapshots: %w", err)
	}
	return data, nil
}

// WriteFile writes the rendered document to path through a temporary file in the same
// directory, so readers only ever see a complete file.
func (g *Generator) WriteFile(path string, feeds []CollatedFeed) error {
	data, err := g.Run(feeds)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
