package entity

import "time"

// Record is the constraint satisfied by every synchronized record type.
// T is the concrete record type itself so WithDeleted can return a copy
// without type assertions.
type Record[T any] interface {
	Identifier() string
	Deleted() bool
	ScopeKey() string
	WithDeleted(deleted bool) T
	WithScopeKey(scope string) T
	WithIdentifier(id string) T
}

// Meta holds the fields shared by all records.
type Meta struct {
	ID        string    `json:"id" yaml:"id"`
	IsDeleted bool      `json:"isDeleted" yaml:"isDeleted"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// Identifier returns the record's opaque identifier.
func (m Meta) Identifier() string { return m.ID }

// Deleted reports the soft-delete flag.
func (m Meta) Deleted() bool { return m.IsDeleted }

// Tab is a top-level page of categories owned by a user.
type Tab struct {
	Meta     `yaml:",inline"`
	UserID   string `json:"userIdentifier" yaml:"userIdentifier"`
	Title    string `json:"title" yaml:"title"`
	Position int    `json:"position" yaml:"position"`
}

// ScopeKey returns the identifier of the owning user.
func (t Tab) ScopeKey() string { return t.UserID }

// WithDeleted returns a copy with the soft-delete flag set to deleted.
func (t Tab) WithDeleted(deleted bool) Tab {
	t.IsDeleted = deleted
	return t
}

// WithScopeKey returns a copy under the owning user identified by scope.
func (t Tab) WithScopeKey(scope string) Tab {
	t.UserID = scope
	return t
}

// WithIdentifier returns a copy with identifier id.
func (t Tab) WithIdentifier(id string) Tab {
	t.ID = id
	return t
}

// Category groups links inside a tab.
type Category struct {
	Meta     `yaml:",inline"`
	TabID    string `json:"tabIdentifier" yaml:"tabIdentifier"`
	Title    string `json:"title" yaml:"title"`
	Position int    `json:"position" yaml:"position"`
}

// ScopeKey returns the identifier of the parent tab.
func (c Category) ScopeKey() string { return c.TabID }

// WithDeleted returns a copy with the soft-delete flag set to deleted.
func (c Category) WithDeleted(deleted bool) Category {
	c.IsDeleted = deleted
	return c
}

// WithScopeKey returns a copy under the parent tab identified by scope.
func (c Category) WithScopeKey(scope string) Category {
	c.TabID = scope
	return c
}

// WithIdentifier returns a copy with identifier id.
func (c Category) WithIdentifier(id string) Category {
	c.ID = id
	return c
}

// Link is a bookmark inside a category.
type Link struct {
	Meta        `yaml:",inline"`
	CategoryID  string   `json:"categoryIdentifier" yaml:"categoryIdentifier"`
	URL         string   `json:"url" yaml:"url"`
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Position    int      `json:"position" yaml:"position"`
}

// ScopeKey returns the identifier of the parent category.
func (l Link) ScopeKey() string { return l.CategoryID }

// WithDeleted returns a copy with the soft-delete flag set to deleted.
func (l Link) WithDeleted(deleted bool) Link {
	l.IsDeleted = deleted
	return l
}

// WithScopeKey returns a copy under the parent category identified by scope.
func (l Link) WithScopeKey(scope string) Link {
	l.CategoryID = scope
	return l
}

// WithIdentifier returns a copy with identifier id.
func (l Link) WithIdentifier(id string) Link {
	l.ID = id
	return l
}

// CatalogLink is a bookmark in the user's flat catalog, the target of bulk
// imports and search.
type CatalogLink struct {
	Meta   `yaml:",inline"`
	UserID string   `json:"userIdentifier" yaml:"userIdentifier"`
	URL    string   `json:"url" yaml:"url"`
	Title  string   `json:"title" yaml:"title"`
	Tags   []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// ScopeKey returns the identifier of the owning user.
func (c CatalogLink) ScopeKey() string { return c.UserID }

// WithDeleted returns a copy with the soft-delete flag set to deleted.
func (c CatalogLink) WithDeleted(deleted bool) CatalogLink {
	c.IsDeleted = deleted
	return c
}

// WithScopeKey returns a copy under the owning user identified by scope.
func (c CatalogLink) WithScopeKey(scope string) CatalogLink {
	c.UserID = scope
	return c
}

// WithIdentifier returns a copy with identifier id.
func (c CatalogLink) WithIdentifier(id string) CatalogLink {
	c.ID = id
	return c
}

// UserSetting carries the display preferences used as projection flags by
// derived views.
type UserSetting struct {
	Meta              `yaml:",inline"`
	UserID            string `json:"userIdentifier" yaml:"userIdentifier"`
	ShowLinkCount     bool   `json:"showLinkCount" yaml:"showLinkCount"`
	ShowTagsInTooltip bool   `json:"showTagsInTooltip" yaml:"showTagsInTooltip"`
	OpenInNewTab      bool   `json:"openInNewTab" yaml:"openInNewTab"`
	Theme             string `json:"theme,omitempty" yaml:"theme,omitempty"`
}

// ScopeKey returns the identifier of the owning user.
func (s UserSetting) ScopeKey() string { return s.UserID }

// WithDeleted returns a copy with the soft-delete flag set to deleted.
func (s UserSetting) WithDeleted(deleted bool) UserSetting {
	s.IsDeleted = deleted
	return s
}

// WithScopeKey returns a copy under the owning user identified by scope.
func (s UserSetting) WithScopeKey(scope string) UserSetting {
	s.UserID = scope
	return s
}

// WithIdentifier returns a copy with identifier id.
func (s UserSetting) WithIdentifier(id string) UserSetting {
	s.ID = id
	return s
}

// DefaultUserSetting is used when a user has no stored settings record.
func DefaultUserSetting(userID string) UserSetting {
	return UserSetting{
		UserID:        userID,
		ShowLinkCount: true,
		OpenInNewTab:  true,
	}
}

// User is the account profile. Users are scoped to themselves.
type User struct {
	Meta  `yaml:",inline"`
	Email string `json:"email" yaml:"email"`
	Name  string `json:"name" yaml:"name"`
}

// ScopeKey returns the user's own identifier.
func (u User) ScopeKey() string { return u.ID }

// WithDeleted returns a copy with the soft-delete flag set to deleted.
func (u User) WithDeleted(deleted bool) User {
	u.IsDeleted = deleted
	return u
}

// WithScopeKey is a no-op: a user's scope is its own identifier.
func (u User) WithScopeKey(string) User { return u }

// WithIdentifier returns a copy with identifier id.
func (u User) WithIdentifier(id string) User {
	u.ID = id
	return u
}
