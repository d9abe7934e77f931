package main

import (
	"fmt"
	"math/rand"

	"github.com/zerotrust/access-engine/internal/behavioral"
	"github.com/zerotrust/access-engine/internal/models"
)

var (
	synthResources = []string{"crm", "wiki", "git", "billing", "hr-portal"}
	synthLocations = []string{"office-nyc", "office-sf", "home-vpn"}
	synthIPs       = []string{"10.0.0.5", "10.0.0.6", "10.0.1.12"}
)

// synthEvent produces one plausible working-hours event for an entity. The
// shared rng keeps runs reproducible for a given seed.
func synthEvent(rng *rand.Rand, entityID string) models.AccessEvent {
	hour := 9 + rng.Intn(9)
	day := 1 + rng.Intn(5)
	duration := 20 + rng.Float64()*40

	return models.AccessEvent{
		EntityID:        entityID,
		Resource:        synthResources[rng.Intn(len(synthResources))],
		Action:          "read",
		Location:        synthLocations[rng.Intn(len(synthLocations))],
		SourceIP:        synthIPs[rng.Intn(len(synthIPs))],
		Hour:            &hour,
		DayOfWeek:       &day,
		SessionDuration: &duration,
		AuthMethod:      "certificate",
		MFAVerified:     true,
		NetworkZone:     "internal",
	}
}

// warmBaselines feeds eventsPer synthetic events into the store for each of
// n entities named user-1..user-n.
func warmBaselines(rng *rand.Rand, store *behavioral.BaselineStore, n, eventsPer int) []string {
	ids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("user-%d", i)
		ids = append(ids, id)
		for j := 0; j < eventsPer; j++ {
			store.Observe(id, synthEvent(rng, id))
		}
	}
	return ids
}
