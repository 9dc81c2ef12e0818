// Package countdown races the two PIN sources for the purchaser's success
// page. A fixed countdown runs independently of status polling; whatever code
// the polls have cached is revealed when the countdown reaches zero.
package countdown

type PinSource string

const (
	SourceNone   PinSource = ""
	SourceRooms  PinSource = "rooms"
	SourceBackup PinSource = "backup"
)

type Phase string

const (
	PhaseCounting  Phase = "counting"
	PhaseDisplayed Phase = "displayed"
	// PhaseNoPin is terminal: the purchaser is told to contact support.
	PhaseNoPin Phase = "no_pin"
)

// Status is one poll of the pass status endpoint.
type Status struct {
	Code           string
	BackupCode     string
	PinSource      PinSource
	PaymentPending bool
}

// Snapshot is a copy of the state handed to observers.
type Snapshot struct {
	Phase            Phase
	Remaining        int
	Elapsed          int
	RoomsPinReceived bool
	CachedCode       string
	DisplayedCode    string
	PinSource        PinSource
	SyncAttempted    bool
}

// State is the countdown state machine. It is not safe for concurrent use.
type State struct {
	total            int
	remaining        int
	roomsPinReceived bool
	cachedCode       string
	displayedCode    string
	pinSource        PinSource
	phase            Phase
	syncAttempted    bool
}

func New(seconds int) *State {
	if seconds < 0 {
		seconds = 0
	}
	return &State{total: seconds, remaining: seconds, phase: PhaseCounting}
}

// OnPoll caches the best code in the response without displaying it. Only a
// code sourced from rooms counts as the rooms PIN; a cached rooms PIN is never
// replaced. It reports whether the caller should fire the one automatic sync.
func (s *State) OnPoll(st Status) (requestSync bool) {
	switch {
	case st.Code != "" && st.PinSource == SourceRooms:
		s.roomsPinReceived = true
		s.cachedCode = st.Code
	case s.roomsPinReceived:
	case st.Code != "":
		s.cachedCode = st.Code
	case st.BackupCode != "":
		s.cachedCode = st.BackupCode
	}
	if st.PaymentPending && !s.syncAttempted && s.phase == PhaseCounting {
		s.syncAttempted = true
		return true
	}
	return false
}

// Tick advances the countdown by one second and resolves the terminal phase
// when it reaches zero. Ticks after that are ignored.
func (s *State) Tick() {
	if s.phase != PhaseCounting {
		return
	}
	if s.remaining > 0 {
		s.remaining--
	}
	if s.remaining == 0 {
		s.resolve()
	}
}

func (s *State) resolve() {
	if s.cachedCode == "" {
		s.phase = PhaseNoPin
		return
	}
	s.displayedCode = s.cachedCode
	s.pinSource = SourceBackup
	if s.roomsPinReceived {
		s.pinSource = SourceRooms
	}
	s.phase = PhaseDisplayed
}

func (s *State) Done() bool {
	return s.phase != PhaseCounting
}

func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Phase:            s.phase,
		Remaining:        s.remaining,
		Elapsed:          s.total - s.remaining,
		RoomsPinReceived: s.roomsPinReceived,
		CachedCode:       s.cachedCode,
		DisplayedCode:    s.displayedCode,
		PinSource:        s.pinSource,
		SyncAttempted:    s.syncAttempted,
	}
}
