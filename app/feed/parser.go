package feed

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"
)

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

type rawPage struct {
	Items *[]rawItem `json:"items"`
	Next  string     `json:"next"`
}

type rawItem struct {
	ID       json.RawMessage `json:"id"`
	Modified Modified        `json:"modified"`
	State    string          `json:"state"`
	Kind     string          `json:"kind"`
	Data     json.RawMessage `json:"data"`
}

// Run decodes an RPDE page fetched from pageURL. Any structural problem rejects the
// whole page.
func (p *Parser) Run(pageURL string, data []byte) (*Page, error) {
	var raw rawPage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	if raw.Items == nil {
		return nil, errors.New("page has no items field")
	}

	next, err := p.resolveNext(pageURL, raw.Next)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(*raw.Items))
	for i, rawItem := range *raw.Items {
		item, err := p.normalizeItem(rawItem)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		item.SourceURL = pageURL
		items = append(items, item)
	}

	return &Page{URL: pageURL, Items: items, Next: next}, nil
}

func (p *Parser) normalizeItem(raw rawItem) (Item, error) {
	id, err := p.parseID(raw.ID)
	if err != nil {
		return Item{}, err
	}

	if raw.Modified.IsZero() {
		return Item{}, fmt.Errorf("item %q has no modified value", id)
	}

	item := Item{
		ID:       id,
		Modified: raw.Modified,
		Kind:     raw.Kind,
	}

	switch ItemState(raw.State) {
	case StateUpdated:
		item.State = StateUpdated
		item.Data = raw.Data
	case StateDeleted:
		item.State = StateDeleted
	default:
		return Item{}, fmt.Errorf("item %q has unrecognized state %q", id, raw.State)
	}

	return item, nil
}

func (p *Parser) parseID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errors.New("item has no id")
	}

	if raw[0] == '"' {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return "", fmt.Errorf("invalid item id: %w", err)
		}
		if id == "" {
			return "", errors.New("item has an empty id")
		}
		return id, nil
	}

	if _, err := strconv.ParseFloat(string(raw), 64); err != nil {
		return "", fmt.Errorf("item id must be a string or a number: %s", raw)
	}
	return string(raw), nil
}

func (p *Parser) resolveNext(pageURL, next string) (string, error) {
	if next == "" {
		return "", errors.New("page has no next URL")
	}

	nextURL, err := url.Parse(next)
	if err != nil {
		return "", fmt.Errorf("invalid next URL: %w", err)
	}
	if nextURL.IsAbs() {
		return next, nil
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid page URL: %w", err)
	}
	return base.ResolveReference(nextURL).String(), nil
}
