package storeauth

// Phase is the coarse authentication state shown to UI code. Errors are an
// orthogonal flag on Snapshot, not a phase.
type Phase int

const (
	PhaseAnonymous Phase = iota
	PhaseAuthenticating
	PhaseAuthenticatedNoProfile
	PhaseAuthenticated
)

func (p Phase) String() string {
	switch p {
	case PhaseAnonymous:
		return "ANONYMOUS"
	case PhaseAuthenticating:
		return "AUTHENTICATING"
	case PhaseAuthenticatedNoProfile:
		return "AUTHENTICATED_NO_PROFILE"
	case PhaseAuthenticated:
		return "AUTHENTICATED"
	default:
		return "UNKNOWN"
	}
}

func derivePhase(user *User, session *Session, profile *Profile, loading bool) Phase {
	switch {
	case user == nil || session == nil:
		if loading {
			return PhaseAuthenticating
		}
		return PhaseAnonymous
	case profile == nil:
		return PhaseAuthenticatedNoProfile
	default:
		return PhaseAuthenticated
	}
}

// lifecycle tracks every reason the controller may be loading. Each reason is
// owned by exactly one logical operation, so an unrelated stream event cannot
// clear loading that belongs to a direct call still in flight.
type lifecycle struct {
	// ops counts direct operations between begin and end.
	ops int
	// awaitSignIn and awaitSignOut are set when a direct operation succeeded
	// and the matching stream event has not arrived yet.
	awaitSignIn  bool
	awaitSignOut bool
	// booting is set between Start and the first event.
	booting bool
	// fetchPending is set while the deferred profile fetch of generation
	// fetchGen has not settled.
	fetchPending bool
	fetchGen     uint64
	// signedInSeq and signedOutSeq count the SIGNED_IN and SIGNED_OUT events
	// applied so far.
	signedInSeq  uint64
	signedOutSeq uint64
}

type inputKind int

const (
	inOpBegin inputKind = iota
	inOpEnd
	inBootBegin
	inBootEnd
	inEvent
	inFetchSettled
	// inProfileInstalled supersedes any pending fetch because a direct
	// write already installed the authoritative row.
	inProfileInstalled
)

// eventEffect is what a provider event does to the session triple.
type eventEffect int

const (
	// effectNone leaves user, session and profile alone.
	effectNone eventEffect = iota
	// effectFetch installs a session and schedules a profile fetch.
	effectFetch
	// effectClear drops user, session and profile.
	effectClear
)

type lifecycleInput struct {
	kind inputKind
	// await, on inOpEnd, names the stream event that will carry the
	// operation's outcome. startSeq is seqFor(await) observed when the
	// operation began; if the event already arrived no wait is needed.
	await    EventType
	startSeq uint64
	// event and effect describe an inEvent input.
	event  EventType
	effect eventEffect
	gen    uint64
}

func (l lifecycle) apply(in lifecycleInput) lifecycle {
	switch in.kind {
	case inOpBegin:
		l.ops++
	case inOpEnd:
		if l.ops > 0 {
			l.ops--
		}
		if in.await != "" && l.seqFor(in.await) == in.startSeq {
			switch in.await {
			case EventSignedIn:
				l.awaitSignIn = true
			case EventSignedOut:
				l.awaitSignOut = true
			}
		}
	case inBootBegin:
		l.booting = true
	case inBootEnd:
		l.booting = false
	case inEvent:
		l.booting = false
		switch in.event {
		case EventSignedIn:
			l.signedInSeq++
			l.awaitSignIn = false
		case EventSignedOut:
			l.signedOutSeq++
			l.awaitSignOut = false
		}
		switch in.effect {
		case effectFetch:
			l.fetchGen++
			l.fetchPending = true
		case effectClear:
			l.fetchGen++
			l.fetchPending = false
		}
	case inFetchSettled:
		if in.gen == l.fetchGen {
			l.fetchPending = false
		}
	case inProfileInstalled:
		l.fetchGen++
		l.fetchPending = false
	}
	return l
}

// seqFor returns the arrival counter of t. Only SIGNED_IN and SIGNED_OUT are
// awaited by direct operations.
func (l lifecycle) seqFor(t EventType) uint64 {
	switch t {
	case EventSignedIn:
		return l.signedInSeq
	case EventSignedOut:
		return l.signedOutSeq
	default:
		return 0
	}
}

func (l lifecycle) loading() bool {
	return l.ops > 0 || l.awaitSignIn || l.awaitSignOut || l.booting || l.fetchPending
}

// classifyEvent maps a provider event to its effect on the session triple.
func classifyEvent(ev AuthChangeEvent) eventEffect {
	switch ev.Type {
	case EventInitialSession, EventSignedIn, EventUserUpdated, EventTokenRefreshed:
		if ev.Session == nil {
			return effectClear
		}
		return effectFetch
	case EventSignedOut:
		return effectClear
	default:
		return effectNone
	}
}
