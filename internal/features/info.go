package features

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pipirc/bridge/internal/feature"
)

func init() {
	feature.Register("info", newInfoFeature)
}

var specialNames = [7]string{"Strength", "Perception", "Endurance", "Charisma", "Intelligence", "Agility", "Luck"}

// infoFeature reports player vitals, grounded in
// original_source/pipirc/features/info.py's use of player.hp/level/special.
type infoFeature struct {
	feature.Base
}

func newInfoFeature(bot feature.BotAPI, raw json.RawMessage) (feature.Feature, error) {
	f := &infoFeature{}
	return f, nil
}

func (f *infoFeature) Commands() []*feature.Command {
	return []*feature.Command{
		feature.NewCommand(feature.CommandSpec{
			Name: "health", Help: "reports HP and limb condition",
			Handler: f.health,
		}),
		feature.NewCommand(feature.CommandSpec{
			Name: "info", Help: "reports level, weight, and location",
			Handler: f.info,
		}),
		feature.NewCommand(feature.CommandSpec{
			Name: "special", Help: "reports SPECIAL stats",
			Handler: f.special,
		}),
	}
}

func (f *infoFeature) health(inv *feature.Invocation) error {
	p := inv.Bot.Snapshot().Player
	var brokenLimbs []string
	for limb, condition := range p.Limbs {
		if condition < 1 {
			brokenLimbs = append(brokenLimbs, limb)
		}
	}
	status := "all limbs OK"
	if len(brokenLimbs) > 0 {
		status = "damaged limbs: " + strings.Join(brokenLimbs, ", ")
	}
	inv.Bot.Say(fmt.Sprintf("%s: %.0f/%.0f HP, %s", p.Name, p.HP, p.MaxHP, status))
	return nil
}

func (f *infoFeature) info(inv *feature.Invocation) error {
	p := inv.Bot.Snapshot().Player
	inv.Bot.Say(fmt.Sprintf("%s: level %.0f, %.1f/%.1f carry weight, at %s", p.Name, p.Level, p.Weight, p.MaxWeight, p.Location))
	return nil
}

func (f *infoFeature) special(inv *feature.Invocation) error {
	p := inv.Bot.Snapshot().Player
	parts := make([]string, 0, len(specialNames))
	for i, name := range specialNames {
		cur, base := p.Special[i], p.BaseSpecial[i]
		if cur != base {
			parts = append(parts, fmt.Sprintf("%s %d (base %d)", name, cur, base))
		} else {
			parts = append(parts, fmt.Sprintf("%s %d", name, cur))
		}
	}
	inv.Bot.Say(strings.Join(parts, ", "))
	return nil
}
