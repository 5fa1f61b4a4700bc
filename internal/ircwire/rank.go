package ircwire

import "strings"

// SenderRank is the chatter privilege level used to gate mod_only/sub_only
// commands (spec §4.4).
type SenderRank string

const (
	RankBroadcaster SenderRank = "broadcaster"
	RankMod         SenderRank = "mod"
	RankSubscriber  SenderRank = "subscriber"
	RankViewer      SenderRank = "viewer"
)

// AtLeast reports whether r meets or exceeds min in the ordering
// broadcaster > mod > subscriber > viewer.
func (r SenderRank) AtLeast(min SenderRank) bool {
	return rankWeight[r] >= rankWeight[min]
}

var rankWeight = map[SenderRank]int{
	RankViewer:      0,
	RankSubscriber:  1,
	RankMod:         2,
	RankBroadcaster: 3,
}

// GetSenderRank derives a chatter's rank from IRCv3 tags and the channel
// they spoke in, per spec §4.4/§8 invariant 6:
//
//	broadcaster  if display-name (case-insensitive) equals channel minus "#"
//	mod          else if tags["mod"] == "1"
//	subscriber   else if tags["subscriber"] == "1"
//	viewer       otherwise
func GetSenderRank(tags map[string]string, displayName, channel string) SenderRank {
	channelName := strings.TrimPrefix(channel, "#")
	if strings.EqualFold(displayName, channelName) {
		return RankBroadcaster
	}
	if tags["mod"] == "1" {
		return RankMod
	}
	if tags["subscriber"] == "1" {
		return RankSubscriber
	}
	return RankViewer
}
