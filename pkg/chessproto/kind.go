package chessproto

// Kind is the "type" discriminator carried by every frame.
type Kind string

// Inbound kinds.
const (
	KindAuth                Kind = "auth"
	KindCreateMatch         Kind = "createMatch"
	KindJoinMatch           Kind = "joinMatch"
	KindStartMatch          Kind = "startMatch"
	KindMakeMove            Kind = "makeMove"
	KindGetAvailableMatches Kind = "getAvailableMatches"
	KindGetUserMatches      Kind = "getUserMatches"
	KindCancelMatch         Kind = "cancelMatch"
)

// Outbound kinds.
const (
	KindAuthSuccess        Kind = "authSuccess"
	KindCreateMatchSuccess Kind = "createMatchSuccess"
	KindJoinMatchSuccess   Kind = "joinMatchSuccess"
	KindStartMatchSuccess  Kind = "startMatchSuccess"
	KindMakeMoveSuccess    Kind = "makeMoveSuccess"
	KindCancelMatchSuccess Kind = "cancelMatchSuccess"
	KindAvailableMatches   Kind = "availableMatches"
	KindUserMatches        Kind = "userMatches"
	KindMatchUpdate        Kind = "matchUpdate"
	KindGameStateUpdate    Kind = "gameStateUpdate"
	KindError              Kind = "error"
)

var inbound = []Kind{
	KindAuth,
	KindCreateMatch,
	KindJoinMatch,
	KindStartMatch,
	KindMakeMove,
	KindGetAvailableMatches,
	KindGetUserMatches,
	KindCancelMatch,
}

// InboundKinds returns the closed set of request kinds a client may send.
func InboundKinds() []Kind {
	return append([]Kind(nil), inbound...)
}

// IsInbound reports whether k is a known request kind.
func IsInbound(k Kind) bool {
	for _, v := range inbound {
		if v == k {
			return true
		}
	}
	return false
}
