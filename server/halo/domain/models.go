package domain

import (
	"strings"
	"time"
)

type Scope string

const (
	ScopePrivate Scope = "PRIVATE"
	ScopeGroup   Scope = "GROUP"
	ScopeAgent   Scope = "AGENT"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopePrivate, ScopeGroup, ScopeAgent:
		return true
	}
	return false
}

// Identity is the authenticated caller of an operation. The zero value means
// nobody is signed in.
type Identity struct {
	ID string
}

func NewIdentity(id string) Identity {
	return Identity{ID: strings.TrimSpace(id)}
}

func (i Identity) Authenticated() bool {
	return i.ID != ""
}

type User struct {
	ID          string    `json:"id"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	Nickname    *string   `json:"nickname"`
	Image       *string   `json:"image"`
	CreatedAt   time.Time `json:"createdAt"`
	DeviceToken *string   `json:"deviceToken"`
}

// UserDetails is the public projection of a User handed to other members.
type UserDetails struct {
	ID        string  `json:"id"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Nickname  *string `json:"nickname"`
	Image     *string `json:"image"`
}

func (u User) Details() UserDetails {
	return UserDetails{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, Nickname: u.Nickname, Image: u.Image}
}

type Agent struct {
	ID          string    `json:"id"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	Nickname    *string   `json:"nickname"`
	Image       *string   `json:"image"`
	CreatedAt   time.Time `json:"createdAt"`
	DeviceToken *string   `json:"deviceToken"`
	Tags        []string  `json:"tags"`
}

type AgentDetails struct {
	ID        string   `json:"id"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Nickname  *string  `json:"nickname"`
	Image     *string  `json:"image"`
	Tags      []string `json:"tags"`
}

func (a Agent) Details() AgentDetails {
	return AgentDetails{ID: a.ID, FirstName: a.FirstName, LastName: a.LastName, Nickname: a.Nickname, Image: a.Image, Tags: a.Tags}
}

// Profile carries the fields a caller supplies when signing up.
type Profile struct {
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Nickname  *string `json:"nickname"`
	Image     *string `json:"image"`
}

// ProfilePatch updates only the non-nil fields.
type ProfilePatch struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Nickname  *string `json:"nickname"`
	Image     *string `json:"image"`
}

func (p ProfilePatch) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Nickname == nil && p.Image == nil
}

// AgentPatch updates the profile fields of ProfilePatch and, when Tags is
// non-nil, replaces the routing tags.
type AgentPatch struct {
	ProfilePatch
	Tags []string `json:"tags"`
}

func (p AgentPatch) Empty() bool {
	return p.ProfilePatch.Empty() && p.Tags == nil
}

// LastMessage is the preview of the newest message cached on a room. A room
// with no messages carries a sentinel preview: empty id, SentAt at creation.
type LastMessage struct {
	ID     string      `json:"id"`
	Type   ContentType `json:"type"`
	Text   string      `json:"text"`
	SentBy string      `json:"sentBy"`
	SentAt time.Time   `json:"sentAt"`
}

func SentinelPreview(at time.Time) LastMessage {
	return LastMessage{SentAt: at}
}

func (l LastMessage) IsSentinel() bool {
	return l.ID == ""
}

type Room struct {
	ID              string         `json:"id"`
	Scope           Scope          `json:"scope"`
	Name            *string        `json:"name"`
	Tag             *string        `json:"tag"`
	CreatedBy       string         `json:"createdBy"`
	CreatedAt       time.Time      `json:"createdAt"`
	UsersIDs        []string       `json:"usersIds"`
	RemovedUsersIDs []string       `json:"removedUsersIds"`
	AgentsIDs       []string       `json:"agentsIds"`
	Metadata        map[string]any `json:"metadata"`
	LastMessage     LastMessage    `json:"lastMessage"`
}

func (r Room) HasActiveUser(id string) bool {
	return contains(r.UsersIDs, id)
}

func (r Room) HasRemovedUser(id string) bool {
	return contains(r.RemovedUsersIDs, id)
}

func (r Room) HasAgent(id string) bool {
	return contains(r.AgentsIDs, id)
}

// IsParticipant reports whether id may post to the room.
func (r Room) IsParticipant(id string) bool {
	return r.HasActiveUser(id) || r.HasAgent(id)
}

// MemberIDs returns usersIds followed by removedUsersIds, the set hydrated
// into RoomDetails.Users.
func (r Room) MemberIDs() []string {
	ids := make([]string, 0, len(r.UsersIDs)+len(r.RemovedUsersIDs))
	ids = append(ids, r.UsersIDs...)
	return append(ids, r.RemovedUsersIDs...)
}

type RoomDetails struct {
	Room
	Users  []UserDetails  `json:"users"`
	Agents []AgentDetails `json:"agents"`
}

// RoomPage is one page of the caller's room listing.
type RoomPage struct {
	Rooms   []RoomDetails `json:"rooms"`
	Next    string        `json:"next"`
	HasNext bool          `json:"hasNext"`
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
