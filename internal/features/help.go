package features

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pipirc/bridge/internal/feature"
)

func init() {
	feature.Register("help", newHelpFeature)
}

// helpFeature lists every non-mod-only command with its cost and help
// text, in ascending point-cost-then-alphabetical order, skipping itself
// (SPEC_FULL §4.6 addition).
type helpFeature struct {
	feature.Base
	bot  feature.BotAPI
	self *feature.Command
}

func newHelpFeature(bot feature.BotAPI, raw json.RawMessage) (feature.Feature, error) {
	f := &helpFeature{bot: bot}
	f.self = feature.NewCommand(feature.CommandSpec{
		Name: "help",
		Help: "lists available commands",
		Handler: func(inv *feature.Invocation) error {
			f.reply(inv)
			return nil
		},
	})
	return f, nil
}

func (f *helpFeature) Commands() []*feature.Command { return []*feature.Command{f.self} }

func (f *helpFeature) reply(inv *feature.Invocation) {
	var visible []*feature.Command
	for _, c := range inv.Bot.Commands() {
		if c == f.self || c.Spec.ModOnly {
			continue
		}
		visible = append(visible, c)
	}
	sort.Slice(visible, func(i, j int) bool {
		a, b := visible[i].Spec, visible[j].Spec
		if a.PointCost != b.PointCost {
			return a.PointCost < b.PointCost
		}
		return a.Name < b.Name
	})

	if len(visible) == 0 {
		inv.Bot.Say("No commands are available.")
		return
	}
	parts := make([]string, 0, len(visible))
	for _, c := range visible {
		s := c.Spec
		entry := s.Name
		if s.PointCost > 0 {
			entry = fmt.Sprintf("%s (%d pts)", entry, s.PointCost)
		}
		if s.Help != "" {
			entry = fmt.Sprintf("%s: %s", entry, s.Help)
		}
		parts = append(parts, entry)
	}
	inv.Bot.Say("Commands: " + strings.Join(parts, " | "))
}
