package session

import (
	"hermes/internal/backend"
	"hermes/internal/registry"
)

// Tier selects the capability set and default backend family for a
// conversational session. The choice happens once at session start and
// does not change mid-session.
type Tier struct {
	Name         string
	Backend      string
	Capabilities []string
}

// TierRegistry is the tier key space, built on the same registry primitive
// as the backend adapters.
type TierRegistry = registry.Registry[Options, Tier]

// Built-in tier names, ninja ranks in ascending capability order.
const (
	TierGenin  = "genin"
	TierChunin = "chunin"
	TierJonin  = "jonin"
)

// NewTierRegistry returns a registry pre-populated with the built-in
// conversational tiers. Genin delegates through a shared relay room,
// chunin adds conversational memory over a streamed executor, jonin runs
// against a dedicated sandbox over a direct tunnel.
func NewTierRegistry() *TierRegistry {
	r := registry.New[Options, Tier]("tier")
	for _, tier := range []Tier{
		{
			Name:         TierGenin,
			Backend:      backend.FamilyRelay,
			Capabilities: []string{"task-delegation", "progress-updates"},
		},
		{
			Name:         TierChunin,
			Backend:      backend.FamilyStream,
			Capabilities: []string{"task-delegation", "progress-updates", "memory", "streamed-replies"},
		},
		{
			Name:         TierJonin,
			Backend:      backend.FamilyDirect,
			Capabilities: []string{"task-delegation", "progress-updates", "memory", "streamed-replies", "cloud-sandbox"},
		},
	} {
		tier := tier
		if err := r.Register(tier.Name, func(Options) (Tier, error) { return tier, nil }); err != nil {
			panic(err)
		}
	}
	return r
}
