package calendar

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	appLog "lunchcal/internal/log"
	"lunchcal/internal/model"
)

// Mode selects how an event title is formatted from a day's items.
type Mode string

const (
	// ModeEntreeOnly titles each event with the primary entree.
	ModeEntreeOnly Mode = "entree_only"
	// ModeFullMeal titles each event with the entree plus sides and vegetables.
	ModeFullMeal Mode = "full_meal"
)

// ParseMode validates a configured display mode. There is no default.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.TrimSpace(s)) {
	case ModeEntreeOnly:
		return ModeEntreeOnly, nil
	case ModeFullMeal:
		return ModeFullMeal, nil
	case "":
		return "", fmt.Errorf("display mode is not set (want %q or %q)", ModeEntreeOnly, ModeFullMeal)
	default:
		return "", fmt.Errorf("unknown display mode %q (want %q or %q)", s, ModeEntreeOnly, ModeFullMeal)
	}
}

// BuildOptions controls event generation.
type BuildOptions struct {
	Mode Mode

	// OrgID and MenuID seed the event UIDs so they stay stable per school day.
	OrgID  string
	MenuID string

	// UIDDomain is appended to each UID as "@domain".
	UIDDomain string
}

// BuildResult is the outcome of Build. Warnings holds non-fatal problems,
// typically *PartialItemError values.
type BuildResult struct {
	Events   []model.CalendarEvent
	Warnings []error
}

// PartialItemError describes a menu item that was dropped from a day.
type PartialItemError struct {
	Date   model.Date
	Index  int
	Reason string
}

func (e *PartialItemError) Error() string {
	return fmt.Sprintf("menu item %d on %s dropped: %s", e.Index, e.Date, e.Reason)
}

// Build turns a fetched menu into one all-day event per date that has at
// least one usable item. Events are sorted by date ascending.
func Build(menu model.Menu, opts BuildOptions) (BuildResult, error) {
	if _, err := ParseMode(string(opts.Mode)); err != nil {
		return BuildResult{}, err
	}

	dates := make([]model.Date, 0, len(menu.Days))
	for d := range menu.Days {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	var res BuildResult
	res.Events = make([]model.CalendarEvent, 0, len(dates))

	for _, d := range dates {
		if !menu.Range.Contains(d) {
			w := fmt.Errorf("menu day %s outside range %s dropped", d, menu.Range)
			appLog.Warn("calendar build: day outside range", "date", d.String(), "range", menu.Range.String())
			res.Warnings = append(res.Warnings, w)
			continue
		}

		day := menu.Days[d]
		if day.Off {
			appLog.Debug("calendar build: day off", "date", d.String(), "reason", day.OffReason)
			continue
		}

		items := make([]model.MenuItem, 0, len(day.Items))
		for i, it := range day.Items {
			if strings.TrimSpace(it.Name) == "" {
				w := &PartialItemError{Date: d, Index: i, Reason: "missing name"}
				appLog.Warn("calendar build: dropping menu item", "date", d.String(), "index", i, "reason", w.Reason)
				res.Warnings = append(res.Warnings, w)
				continue
			}
			items = append(items, it)
		}
		if len(items) == 0 {
			continue
		}

		res.Events = append(res.Events, model.CalendarEvent{
			UID:         eventUID(opts, d),
			Date:        d,
			AllDay:      true,
			Title:       formatTitle(items, opts.Mode),
			Description: formatDescription(items),
		})
	}

	return res, nil
}

// eventUID is derived from the school day only, so a changed menu replaces
// the existing entry in subscribers instead of adding a second one.
func eventUID(opts BuildOptions, d model.Date) string {
	name := "lunchcal:" + opts.OrgID + ":" + opts.MenuID + ":" + d.String()
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
	if opts.UIDDomain == "" {
		return id
	}
	return id + "@" + opts.UIDDomain
}

// primary returns the index of the day's main item: the first entree, or
// the first item when no entree is listed.
func primary(items []model.MenuItem) int {
	for i, it := range items {
		if it.Category == model.CategoryEntree {
			return i
		}
	}
	return 0
}

func formatTitle(items []model.MenuItem, mode Mode) string {
	p := primary(items)
	title := items[p].Name
	if mode != ModeFullMeal {
		return title
	}

	var with []string
	for i, it := range items {
		if i == p {
			continue
		}
		switch it.Category {
		case model.CategoryEntree, model.CategorySide, model.CategoryVegetable:
			with = append(with, it.Name)
		}
	}
	if len(with) == 0 {
		return title
	}
	return title + " with " + strings.Join(with, ", ")
}

func formatDescription(items []model.MenuItem) string {
	groups := map[model.Category][]string{}
	for _, it := range items {
		groups[it.Category] = append(groups[it.Category], it.Name)
	}

	sections := []struct {
		label    string
		category model.Category
	}{
		{"Entree", model.CategoryEntree},
		{"With", model.CategorySide},
		{"Vegetables", model.CategoryVegetable},
		{"Fruit", model.CategoryFruit},
		{"Milk", model.CategoryMilk},
	}

	lines := make([]string, 0, len(sections))
	for _, s := range sections {
		if names := groups[s.category]; len(names) > 0 {
			lines = append(lines, s.label+": "+strings.Join(names, ", "))
		}
	}
	return strings.Join(lines, "\n")
}
