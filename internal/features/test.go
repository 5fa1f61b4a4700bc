package features

import (
	"encoding/json"
	"strings"

	"github.com/pipirc/bridge/internal/feature"
)

func init() {
	feature.Register("test", newTestFeature)
}

// testConfig is the "test" feature's option schema (spec §4.6: "an option
// schema with defaults").
type testConfig struct {
	Trigger string `json:"trigger"`
}

func defaultTestConfig() testConfig {
	return testConfig{Trigger: "ping"}
}

// testFeature is a connectivity check: it greets on start, echoes on a
// trigger word, and says goodbye on stop — the init/stop hooks spec §4.6
// calls out explicitly.
type testFeature struct {
	feature.Base
	bot     feature.BotAPI
	trigger string
}

func newTestFeature(bot feature.BotAPI, raw json.RawMessage) (feature.Feature, error) {
	cfg := defaultTestConfig()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
	}
	f := &testFeature{bot: bot, trigger: cfg.Trigger}
	bot.Say("pipirc bridge online for " + bot.StreamName() + ".")
	return f, nil
}

func (f *testFeature) Commands() []*feature.Command { return nil }

func (f *testFeature) OnMessage(msg *feature.Message) {
	if strings.EqualFold(strings.TrimSpace(msg.Text), f.trigger) {
		f.bot.Say("pong")
	}
}

func (f *testFeature) Stop() {
	f.bot.Say("pipirc bridge going offline.")
}
