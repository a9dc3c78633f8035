package store

// Profile is the full own-user view returned by the REST surface. It
// carries custom status, which broadcast author snapshots do not.
type Profile struct {
	ID           string  `json:"id"`
	Username     string  `json:"username"`
	DisplayName  string  `json:"displayName"`
	Avatar       string  `json:"avatar,omitempty"`
	Status       string  `json:"status"`
	CustomStatus *string `json:"customStatus,omitempty"`
	IsBot        bool    `json:"isBot"`
}

// Server with its nested category/channel tree, as listed for one user.
type Server struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Icon        string     `json:"icon,omitempty"`
	Color       string     `json:"color"`
	OwnerID     string     `json:"ownerId"`
	MemberCount int        `json:"memberCount"`
	BoostLevel  int        `json:"boostLevel"`
	Categories  []Category `json:"categories"`
}

type Category struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Channels []Channel `json:"channels"`
}

type Channel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	UnreadCount int    `json:"unreadCount"`
}

// Member is one row of a server's member list.
type Member struct {
	ID           string  `json:"id"`
	Username     string  `json:"username"`
	DisplayName  string  `json:"displayName"`
	Avatar       string  `json:"avatar,omitempty"`
	Status       string  `json:"status"`
	CustomStatus *string `json:"customStatus,omitempty"`
	IsBot        bool    `json:"isBot"`
	Role         string  `json:"role"`
}
