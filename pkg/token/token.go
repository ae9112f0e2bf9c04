// Package token mints the signed, time-scoped access grants that agent and
// user participants present when connecting to a room.
package token

import (
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"
)

// tokenTTL bounds how long a minted grant stays valid. Grants are consumed
// once, right after minting, so the window only needs to outlive the room.
const tokenTTL = 6 * time.Hour

// agentPublishSources lists the media sources an agent participant may
// publish into the room.
var agentPublishSources = []string{
	"camera",
	"microphone",
	"screen_share_audio",
	"screen_share",
}

// Minter issues LiveKit access tokens signed with the tenant API key pair.
type Minter struct {
	apiKey    string
	apiSecret string
}

// NewMinter creates a Minter for the given API key pair.
func NewMinter(apiKey, apiSecret string) *Minter {
	return &Minter{apiKey: apiKey, apiSecret: apiSecret}
}

// AgentIdentity builds the room-scoped participant identity for a persona.
func AgentIdentity(personaName, room string) string {
	return fmt.Sprintf("%s-agent-%s", personaName, room)
}

// MintAgentGrant issues a grant letting an agent process join the room and
// publish/subscribe on all agent media sources.
func (m *Minter) MintAgentGrant(identity, name, room string) (string, error) {
	canPublish := true
	canSubscribe := true

	at := auth.NewAccessToken(m.apiKey, m.apiSecret)
	at.SetIdentity(identity)
	at.SetName(name)
	at.SetValidFor(tokenTTL)
	at.AddGrant(&auth.VideoGrant{
		RoomJoin:          true,
		Room:              room,
		CanPublish:        &canPublish,
		CanSubscribe:      &canSubscribe,
		CanPublishSources: agentPublishSources,
	})
	return at.ToJWT()
}

// MintUserGrant issues a room-join grant for a human participant, leaving
// publish permissions at the platform defaults.
func (m *Minter) MintUserGrant(identity, room string) (string, error) {
	at := auth.NewAccessToken(m.apiKey, m.apiSecret)
	at.SetIdentity(identity)
	at.SetName(identity)
	at.SetValidFor(tokenTTL)
	at.AddGrant(&auth.VideoGrant{
		RoomJoin: true,
		Room:     room,
	})
	return at.ToJWT()
}
