// Package pipproto defines the boundary between the bridge and the pip
// protocol codec. The codec itself — the thing that actually speaks the
// game's companion-app binary protocol — is out of scope (spec §1); this
// package defines just enough of a shape for the Bot Host and its features
// to operate on, plus a minimal newline-JSON placeholder implementation of
// Client so the rest of the system can be built and tested end to end.
package pipproto

// PlayerState is a snapshot of the player character's vitals, grounded in
// the fields referenced by original_source/pipirc/features/info.py.
type PlayerState struct {
	Name        string  `json:"name"`
	Level       float64 `json:"level"`
	HP          float64 `json:"hp"`
	MaxHP       float64 `json:"max_hp"`
	Weight      float64 `json:"weight"`
	MaxWeight   float64 `json:"max_weight"`
	Location    string  `json:"location"`
	Locked      bool    `json:"locked"` // paused, in VATS, etc: not in a usable state
	Special     [7]int  `json:"special"`
	BaseSpecial [7]int  `json:"base_special"`
	// Limbs maps limb name to condition in [0,1]; values below 1 are damaged.
	Limbs map[string]float64 `json:"limbs"`
}

// Item is a single inventory entry, grounded in list_chems.py/list_weapons.py/
// use_favorite.py's use of item.name, item.count, item.favorite_slot,
// item.equipped and the chem/alcohol name-set checks.
type Item struct {
	Handle       string   `json:"handle"`
	Name         string   `json:"name"`
	Count        int      `json:"count"`
	Category     string   `json:"category"` // "chem", "alcohol", "weapon", "other"
	FavoriteSlot int      `json:"favorite_slot"` // -1 if not favorited
	Equipped     bool     `json:"equipped"`
	Effects      []string `json:"effects"`
}

// Snapshot is a full point-in-time dump of player and inventory state, with
// a monotonically increasing Version bumped on every change. UseItemLock
// compares versions to detect that an in-flight use has taken effect.
type Snapshot struct {
	Version uint64      `json:"version"`
	Player  PlayerState `json:"player"`
	Items   []Item      `json:"items"`
}

// ActionKind enumerates the action verbs the bridge can submit.
type ActionKind string

const (
	ActionUse   ActionKind = "use"
	ActionEquip ActionKind = "equip"
)

// Action is a request to perform a game action against a specific item.
type Action struct {
	Kind       ActionKind `json:"kind"`
	ItemHandle string     `json:"item_handle"`
}
