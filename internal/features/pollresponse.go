package features

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/pipirc/bridge/internal/feature"
	"github.com/pipirc/bridge/internal/ircwire"
)

func init() {
	feature.Register("poll_response", newPollResponseFeature)
}

// pollResponseConfig is the "poll_response" feature's option schema: a
// regex with exactly one capture group naming a favorited item.
type pollResponseConfig struct {
	Pattern string `json:"pattern"`
}

// pollResponseFeature equips the favorite slot named by a regex capture on
// any chat message from a mod or the broadcaster, generalizing
// original_source/pipirc/features/deepbot_poll_response.py.
type pollResponseFeature struct {
	feature.Base
	re *regexp.Regexp
}

func newPollResponseFeature(bot feature.BotAPI, raw json.RawMessage) (feature.Feature, error) {
	cfg := pollResponseConfig{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
	}
	if cfg.Pattern == "" {
		return &pollResponseFeature{}, nil
	}
	re, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		return nil, fmt.Errorf("poll_response: invalid pattern: %w", err)
	}
	if re.NumSubexp() != 1 {
		return nil, fmt.Errorf("poll_response: pattern must have exactly one capture group")
	}
	return &pollResponseFeature{re: re}, nil
}

func (f *pollResponseFeature) Commands() []*feature.Command { return nil }

func (f *pollResponseFeature) OnMessage(msg *feature.Message) {
	if f.re == nil || !msg.Rank.AtLeast(ircwire.RankMod) {
		return
	}
	match := f.re.FindStringSubmatch(msg.Text)
	if match == nil {
		return
	}
	want := strings.ToLower(match[1])
	for _, item := range msg.Bot.Snapshot().Items {
		if item.FavoriteSlot >= 0 && strings.Contains(strings.ToLower(item.Name), want) {
			if err := msg.Bot.EquipItem(msg.Ctx, item.Handle); err != nil {
				msg.Bot.Say(fmt.Sprintf("couldn't equip %s: %v", item.Name, err))
			}
			return
		}
	}
}

func (f *pollResponseFeature) Stop() {}
