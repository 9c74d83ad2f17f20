package testutil

import (
	"io"
	"log/slog"

	"github.com/roach88/marksync/internal/entity"
)

// User owns every fixture record.
const User = "u1"

// Quiet returns a logger that discards everything.
func Quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Tab returns a tab of User.
func Tab(id string, pos int) entity.Tab {
	return entity.Tab{Meta: entity.Meta{ID: id}, UserID: User, Title: "Tab " + id, Position: pos}
}

// Category returns a category of tab tabID.
func Category(id, tabID string, pos int) entity.Category {
	return entity.Category{Meta: entity.Meta{ID: id}, TabID: tabID, Title: "Category " + id, Position: pos}
}

// Link returns a link of category categoryID.
func Link(id, categoryID string, tags ...string) entity.Link {
	return entity.Link{
		Meta:       entity.Meta{ID: id},
		CategoryID: categoryID,
		URL:        "https://example.com/" + id,
		Title:      "Link " + id,
		Tags:       tags,
	}
}

// Settings returns the settings record of User.
func Settings(showCount, showTags bool) entity.UserSetting {
	return entity.UserSetting{
		Meta:              entity.Meta{ID: "s1"},
		UserID:            User,
		ShowLinkCount:     showCount,
		ShowTagsInTooltip: showTags,
	}
}
