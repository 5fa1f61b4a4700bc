package features

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/pipirc/bridge/internal/feature"
)

func init() {
	feature.Register("inventory", newInventoryFeature)
}

const chemSampleSize = 5

// inventoryConfig is the "inventory" feature's option schema.
type inventoryConfig struct {
	SampleSize int `json:"sample_size"`
}

// inventoryFeature reports carried consumables and favorited items,
// generalizing original_source/pipirc/features/list_chems.py and
// list_weapons.py to the generic pipproto.Item model.
type inventoryFeature struct {
	feature.Base
	sampleSize int
}

func newInventoryFeature(bot feature.BotAPI, raw json.RawMessage) (feature.Feature, error) {
	cfg := inventoryConfig{SampleSize: chemSampleSize}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
	}
	return &inventoryFeature{sampleSize: cfg.SampleSize}, nil
}

func (f *inventoryFeature) Commands() []*feature.Command {
	return []*feature.Command{
		feature.NewCommand(feature.CommandSpec{
			Name: "chems", Help: "shows a sample of carried chems",
			Handler: f.chems,
		}),
		feature.NewCommand(feature.CommandSpec{
			Name: "items", Help: "shows a sample of carried chems",
			Handler: f.chems,
		}),
		feature.NewCommand(feature.CommandSpec{
			Name: "weapons", Help: "lists favorited items",
			Handler: f.favorites,
		}),
		feature.NewCommand(feature.CommandSpec{
			Name: "favorites", Help: "lists favorited items",
			Handler: f.favorites,
		}),
	}
}

func (f *inventoryFeature) chems(inv *feature.Invocation) error {
	var chems []string
	for _, item := range inv.Bot.Snapshot().Items {
		if item.Category == "chem" || item.Category == "alcohol" {
			chems = append(chems, item.Name)
		}
	}
	if len(chems) == 0 {
		inv.Bot.Say("No chems or booze carried right now.")
		return nil
	}
	sample := boundedSample(chems, f.sampleSize)
	inv.Bot.Say("Carrying: " + strings.Join(sample, ", "))
	return nil
}

func (f *inventoryFeature) favorites(inv *feature.Invocation) error {
	var favorites []pipprotoItem
	for _, item := range inv.Bot.Snapshot().Items {
		if item.FavoriteSlot >= 0 {
			favorites = append(favorites, pipprotoItem{item.FavoriteSlot, item.Name})
		}
	}
	if len(favorites) == 0 {
		inv.Bot.Say("No favorited items.")
		return nil
	}
	sort.Slice(favorites, func(i, j int) bool { return favorites[i].slot < favorites[j].slot })
	parts := make([]string, 0, len(favorites))
	for _, fi := range favorites {
		parts = append(parts, fmt.Sprintf("[%d] %s", fi.slot, fi.name))
	}
	inv.Bot.Say("Favorites: " + strings.Join(parts, ", "))
	return nil
}

type pipprotoItem struct {
	slot int
	name string
}

// boundedSample returns up to n elements of items without replacement, in
// randomized order, generalizing list_chems.py's bounded random sample.
func boundedSample(items []string, n int) []string {
	if n <= 0 || n >= len(items) {
		n = len(items)
	}
	shuffled := make([]string, len(items))
	copy(shuffled, items)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[:n]
}
