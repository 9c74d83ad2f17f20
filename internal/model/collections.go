package model

import "github.com/roach88/marksync/internal/entity"

// Concrete models, one per synchronized collection.
type (
	Tabs       = Model[entity.Tab]
	Categories = Model[entity.Category]
	Links      = Model[entity.Link]
	Catalog    = Model[entity.CatalogLink]
	Settings   = Model[entity.UserSetting]
	Users      = Model[entity.User]
)

// NewTabs creates the tabs model of a user.
func NewTabs(d Deps, userID string, opts ...Option) *Tabs {
	return New[entity.Tab](d, entity.KindTabs, userID, opts...)
}

// NewCategories creates the categories model of a tab.
func NewCategories(d Deps, tabID string, opts ...Option) *Categories {
	return New[entity.Category](d, entity.KindCategories, tabID, opts...)
}

// NewLinks creates the links model of a category.
func NewLinks(d Deps, categoryID string, opts ...Option) *Links {
	return New[entity.Link](d, entity.KindLinks, categoryID, opts...)
}

// NewCatalog creates the catalog model of a user.
func NewCatalog(d Deps, userID string, opts ...Option) *Catalog {
	return New[entity.CatalogLink](d, entity.KindCatalog, userID, opts...)
}

// NewSettings creates the settings model of a user.
func NewSettings(d Deps, userID string, opts ...Option) *Settings {
	return New[entity.UserSetting](d, entity.KindSettings, userID, opts...)
}

// NewUsers creates the profile model of a user.
func NewUsers(d Deps, userID string, opts ...Option) *Users {
	return New[entity.User](d, entity.KindUsers, userID, opts...)
}

// SettingOf returns the user's active settings record, or the defaults.
func SettingOf(userID string, data []entity.UserSetting) entity.UserSetting {
	for _, s := range data {
		if !s.Deleted() {
			return s
		}
	}
	return entity.DefaultUserSetting(userID)
}
