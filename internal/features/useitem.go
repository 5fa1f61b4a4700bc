package features

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/pipirc/bridge/internal/feature"
)

func init() {
	feature.Register("use_item", newUseItemFeature)
}

// useItemFeature funnels use/equip requests through Bot.UseItem,
// generalizing original_source/pipirc/features/use_favorite.py (use
// <slot>) and use_chem.py/use_booze.py (usechem <name> / drink).
type useItemFeature struct {
	feature.Base
}

func newUseItemFeature(bot feature.BotAPI, raw json.RawMessage) (feature.Feature, error) {
	return &useItemFeature{}, nil
}

func (f *useItemFeature) Commands() []*feature.Command {
	return []*feature.Command{
		feature.NewCommand(feature.CommandSpec{
			Name: "use", Help: "use <slot>: uses the favorited item in that slot",
			Handler: f.use,
		}),
		feature.NewCommand(feature.CommandSpec{
			Name: "usechem", Help: "usechem <name>: uses a carried chem by name",
			Handler: f.useChem,
		}),
		feature.NewCommand(feature.CommandSpec{
			Name: "drink", Help: "drinks a random carried alcoholic beverage",
			Handler: f.drink,
		}),
	}
}

func (f *useItemFeature) use(inv *feature.Invocation) error {
	if len(inv.Args) != 1 {
		return feature.ErrWrongArity
	}
	slot, err := strconv.Atoi(inv.Args[0])
	if err != nil {
		return fmt.Errorf("%q is not a valid slot number", inv.Args[0])
	}
	for _, item := range inv.Bot.Snapshot().Items {
		if item.FavoriteSlot == slot {
			return inv.Bot.UseItem(inv.Ctx, item.Handle)
		}
	}
	return fmt.Errorf("nothing favorited in slot %d", slot)
}

func (f *useItemFeature) useChem(inv *feature.Invocation) error {
	if len(inv.Args) < 1 {
		return feature.ErrWrongArity
	}
	name := strings.ToLower(strings.Join(inv.Args, " "))
	for _, item := range inv.Bot.Snapshot().Items {
		if item.Category == "chem" && strings.Contains(strings.ToLower(item.Name), name) {
			return inv.Bot.UseItem(inv.Ctx, item.Handle)
		}
	}
	return fmt.Errorf("no carried chem matches %q", name)
}

func (f *useItemFeature) drink(inv *feature.Invocation) error {
	if len(inv.Args) != 0 {
		return feature.ErrWrongArity
	}
	var booze []string
	itemsByHandle := make(map[string]string)
	for _, item := range inv.Bot.Snapshot().Items {
		if item.Category == "alcohol" {
			booze = append(booze, item.Handle)
			itemsByHandle[item.Handle] = item.Name
		}
	}
	if len(booze) == 0 {
		return fmt.Errorf("nothing alcoholic carried")
	}
	handle := booze[rand.Intn(len(booze))]
	return inv.Bot.UseItem(inv.Ctx, handle)
}
