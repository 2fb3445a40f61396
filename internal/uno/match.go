package uno

import (
	"strings"
	"time"
	"unicode/utf8"

	"uno-server/internal/game"
)

type Status string

const (
	StatusLobby   Status = "lobby"
	StatusPlaying Status = "playing"
	StatusEnded   Status = "ended"
)

const (
	MinPlayers    = 2
	MaxPlayers    = 6
	HandSize      = 7
	MaxNameLength = 20
)

// Profile is what a participant brings to a room.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef"`
}

type Player struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"displayName"`
	AvatarRef   string      `json:"avatarRef"`
	Hand        []game.Card `json:"hand"`
	UnoDeclared bool        `json:"unoDeclared"`
}

// Match is the authoritative state of one room. Only the owning room goroutine
// may call its mutating methods.
type Match struct {
	RoomID              string      `json:"roomId"`
	Status              Status      `json:"status"`
	Players             []*Player   `json:"players"`
	DrawPile            []game.Card `json:"drawPile"`
	DiscardPile         []game.Card `json:"discardPile"`
	TopCard             *game.Card  `json:"topCard"`
	TurnIndex           int         `json:"turnIndex"`
	Direction           Direction   `json:"direction"`
	PendingPenalty      int         `json:"pendingPenalty"`
	ActiveColorOverride game.Color  `json:"activeColorOverride,omitempty"`
	WinnerID            string      `json:"winnerId,omitempty"`
	Log                 []LogEntry  `json:"log"`
	LogSeq              int64       `json:"logSeq"`
	Version             int64       `json:"version"`
	CreatedAt           time.Time   `json:"createdAt"`
	UpdatedAt           time.Time   `json:"updatedAt"`

	shuffle game.Shuffler
	clock   func() time.Time
}

type Option func(*Match)

func WithShuffler(shuffle game.Shuffler) Option {
	return func(m *Match) { m.shuffle = shuffle }
}

func WithClock(clock func() time.Time) Option {
	return func(m *Match) { m.clock = clock }
}

// NewMatch opens a lobby with creator in seat 0.
func NewMatch(roomID string, creator Profile, opts ...Option) (*Match, error) {
	creator, err := normalizeProfile(creator)
	if err != nil {
		return nil, err
	}

	m := &Match{
		RoomID:    roomID,
		Status:    StatusLobby,
		Direction: Clockwise,
		Version:   1,
	}
	m.Configure(opts...)

	now := m.now()
	m.CreatedAt = now
	m.UpdatedAt = now
	m.Players = []*Player{newPlayer(creator)}
	m.logf("%s created match %s", creator.DisplayName, roomID)
	return m, nil
}

// Configure applies options, e.g. after a match was decoded from storage.
func (m *Match) Configure(opts ...Option) {
	for _, opt := range opts {
		opt(m)
	}
}

func (m *Match) Join(profile Profile) error {
	profile, err := normalizeProfile(profile)
	if err != nil {
		return err
	}
	// A seated player joining again is a no-op in any state.
	if _, seat := m.Seat(profile.ID); seat >= 0 {
		return nil
	}
	if m.Status != StatusLobby {
		return ErrNotJoinable
	}
	if len(m.Players) >= MaxPlayers {
		return ErrRoomFull
	}

	m.Players = append(m.Players, newPlayer(profile))
	m.logf("%s joined", profile.DisplayName)
	m.touch()
	return nil
}

func (m *Match) Start(playerID string) error {
	if m.Status != StatusLobby {
		return ErrAlreadyStarted
	}
	if _, seat := m.Seat(playerID); seat < 0 {
		return ErrNotInRoom
	}
	if len(m.Players) < MinPlayers {
		return ErrNotEnoughPlayers
	}

	deck := game.Shuffle(game.NewDeck(), m.shuffle)
	for _, p := range m.Players {
		p.Hand = append([]game.Card(nil), deck[:HandSize]...)
		p.UnoDeclared = false
		deck = deck[HandSize:]
	}

	// Flip until a plain numbered card shows; rejects go to the bottom.
	top := deck[0]
	deck = deck[1:]
	for tries := len(deck); !top.Value.IsNumeric() && tries > 0; tries-- {
		deck = append(deck, top)
		top = deck[0]
		deck = deck[1:]
	}

	m.DrawPile = deck
	m.DiscardPile = []game.Card{top}
	m.TopCard = &top
	m.TurnIndex = 0
	m.Direction = Clockwise
	m.PendingPenalty = 0
	m.ActiveColorOverride = ""
	m.Status = StatusPlaying
	m.logf("Game started, %s is up", top)
	m.touch()
	return nil
}

// Play puts the card at cardIndex of the player's hand on the discard pile.
// chosenColor is required for wild and draw4 and ignored for everything else.
func (m *Match) Play(playerID string, cardIndex int, chosenColor game.Color) error {
	player, err := m.currentActor(playerID)
	if err != nil {
		return err
	}
	if cardIndex < 0 || cardIndex >= len(player.Hand) {
		return ErrIllegalCard
	}

	card := player.Hand[cardIndex]
	if !IsLegalPlay(card, *m.TopCard, m.ActiveColorOverride, m.PendingPenalty) {
		return ErrIllegalCard
	}
	// A winning card owes nothing, including a color.
	finishing := len(player.Hand) == 1
	if RequiresColorChoice(card) && !finishing && !chosenColor.IsPlayable() {
		return ErrMissingColorChoice
	}

	hand := make([]game.Card, 0, len(player.Hand)-1)
	hand = append(hand, player.Hand[:cardIndex]...)
	player.Hand = append(hand, player.Hand[cardIndex+1:]...)

	m.DiscardPile = append([]game.Card{card}, m.DiscardPile...)
	top := card
	m.TopCard = &top
	m.logf("%s played %s", player.DisplayName, card)

	if len(player.Hand) == 0 {
		m.Status = StatusEnded
		m.WinnerID = player.ID
		m.logf("%s wins!", player.DisplayName)
		m.touch()
		return nil
	}

	effect := ResolvePlayEffect(card)
	m.TurnIndex, m.Direction = AdvanceTurn(m.TurnIndex, len(m.Players), m.Direction, effect)
	m.PendingPenalty += effect.PenaltyDelta
	if RequiresColorChoice(card) {
		m.ActiveColorOverride = chosenColor
		m.logf("%s picked %s", player.DisplayName, chosenColor)
	} else {
		m.ActiveColorOverride = ""
	}

	m.touch()
	return nil
}

// Draw gives the current actor max(1, pendingPenalty) cards and passes the turn.
func (m *Match) Draw(playerID string) error {
	player, err := m.currentActor(playerID)
	if err != nil {
		return err
	}

	n := max(1, m.PendingPenalty)
	cards, drawPile, discardPile := DrawCards(n, m.DrawPile, m.DiscardPile, m.shuffle)

	player.Hand = append(player.Hand, cards...)
	player.UnoDeclared = false
	m.DrawPile = drawPile
	m.DiscardPile = discardPile
	m.PendingPenalty = 0
	m.TurnIndex = NextTurn(m.TurnIndex, len(m.Players), m.Direction)
	m.logf("%s drew %d", player.DisplayName, len(cards))
	m.touch()
	return nil
}

func (m *Match) DeclareUno(playerID string) error {
	if m.Status != StatusPlaying {
		return ErrGameNotInProgress
	}
	player, seat := m.Seat(playerID)
	if seat < 0 {
		return ErrNotInRoom
	}
	if len(player.Hand) != 1 {
		return ErrNotEligible
	}
	if player.UnoDeclared {
		return nil
	}

	player.UnoDeclared = true
	m.logf("%s UNO!", player.DisplayName)
	m.touch()
	return nil
}

// Expect rejects with STALE_STATE unless the match is at version. Plays address
// cards by hand position, so a play checked against an older version could land
// on a different card.
func (m *Match) Expect(version int64) error {
	if m.Version != version {
		return ErrStaleState
	}
	return nil
}

// Seat finds a player by id. The index is -1 when the player is not seated.
func (m *Match) Seat(playerID string) (*Player, int) {
	for i, p := range m.Players {
		if p.ID == playerID {
			return p, i
		}
	}
	return nil, -1
}

// Snapshot returns a deep copy that is safe to hand to other goroutines.
func (m *Match) Snapshot() *Match {
	c := *m
	c.Players = make([]*Player, len(m.Players))
	for i, p := range m.Players {
		cp := *p
		cp.Hand = clonePile(p.Hand)
		c.Players[i] = &cp
	}
	c.DrawPile = clonePile(m.DrawPile)
	c.DiscardPile = clonePile(m.DiscardPile)
	if m.TopCard != nil {
		top := *m.TopCard
		c.TopCard = &top
	}
	c.Log = append([]LogEntry(nil), m.Log...)
	return &c
}

func (m *Match) currentActor(playerID string) (*Player, error) {
	if m.Status != StatusPlaying {
		return nil, ErrGameNotInProgress
	}
	if _, seat := m.Seat(playerID); seat < 0 {
		return nil, ErrNotInRoom
	}
	player := m.Players[m.TurnIndex]
	if player.ID != playerID {
		return nil, ErrNotYourTurn
	}
	return player, nil
}

func (m *Match) touch() {
	m.Version++
	m.UpdatedAt = m.now()
}

func (m *Match) now() time.Time {
	if m.clock != nil {
		return m.clock()
	}
	return time.Now()
}

func newPlayer(profile Profile) *Player {
	return &Player{
		ID:          profile.ID,
		DisplayName: profile.DisplayName,
		AvatarRef:   profile.AvatarRef,
		Hand:        []game.Card{},
	}
}

func normalizeProfile(profile Profile) (Profile, error) {
	profile.ID = strings.TrimSpace(profile.ID)
	profile.DisplayName = strings.TrimSpace(profile.DisplayName)
	if profile.ID == "" {
		return profile, ErrInvalidProfile
	}
	if profile.DisplayName == "" || utf8.RuneCountInString(profile.DisplayName) > MaxNameLength {
		return profile, ErrInvalidProfile
	}
	return profile, nil
}
