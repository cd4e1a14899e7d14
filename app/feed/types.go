package feed

import (
	"slices"

	"github.com/goccy/go-json"
	"github.com/samber/lo"
)

// RPDE page types

type ItemState string

const (
	StateUpdated ItemState = "updated"
	StateDeleted ItemState = "deleted"
)

type Item struct {
	ID        string          `json:"id"`
	Modified  Modified        `json:"modified"`
	State     ItemState       `json:"state"`
	Kind      string          `json:"kind,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	SourceURL string          `json:"source_url,omitempty"`
}

type Page struct {
	URL   string // URL the page was fetched from
	Items []Item
	Next  string
}

// IsEnd reports whether the publisher pointed back at the page just fetched.
func (p *Page) IsEnd() bool {
	return p.Next == p.URL
}

// Snapshot holds the latest non-deleted version of every item of a feed, keyed by item ID.
type Snapshot map[string]Item

// Items returns the snapshot contents ordered by item ID.
func (s Snapshot) Items() []Item {
	ids := lo.Keys(s)
	slices.Sort(ids)

	items := make([]Item, 0, len(ids))
	for _, id := range ids {
		items = append(items, s[id])
	}
	return items
}

func SnapshotFromItems(items []Item) Snapshot {
	return lo.SliceToMap(items, func(item Item) (string, Item) {
		return item.ID, item
	})
}

// Configuration types

type Config struct {
	Name     string         `validate:"required"` // Derived from filename (without .yml extension)
	URL      string         `yaml:"url" validate:"required,url,startswith=http"`
	Settings ConfigSettings `yaml:"settings"`
}

type ConfigSettings struct {
	Enabled bool `yaml:"enabled"`
	Timeout int  `yaml:"timeout" validate:"gte=0"` // seconds
}
