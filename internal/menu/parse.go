package menu

import (
	"bytes"
	"encoding/json"
	"strings"

	"lunchcal/internal/model"
)

// Wire shapes of the menu API.

// Pointers distinguish a missing key from an empty value.

type metadataResponse struct {
	Data *struct {
		Name            string    `json:"name"`
		PublishedMonths *[]string `json:"published_months"`
	} `json:"data"`
}

type monthResponse struct {
	Data *[]dayRecord `json:"data"`
}

type dayRecord struct {
	Day string `json:"day"`
	// Setting is itself a JSON document encoded as a string.
	Setting string `json:"setting"`
}

type daySetting struct {
	CurrentDisplay []displayRow `json:"current_display"`
	// DaysOff is an object when set and an empty list otherwise.
	DaysOff json.RawMessage `json:"days_off"`
}

type displayRow struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type daysOff struct {
	Status      int    `json:"status"`
	Description string `json:"description"`
}

const defaultOffReason = "No School"

// parseDay decodes a day's setting string into a MenuDay.
//
// current_display is an ordered list of rows. A "category" row opens a meal
// section; a "text" row mentioning "with" starts the accompaniments of the
// current entree; "recipe" rows are the actual items.
func parseDay(date model.Date, setting string) (model.MenuDay, error) {
	day := model.MenuDay{Date: date, Items: []model.MenuItem{}}

	setting = strings.TrimSpace(setting)
	if setting == "" {
		return day, nil
	}

	var s daySetting
	if err := json.Unmarshal([]byte(setting), &s); err != nil {
		return day, err
	}

	if off, ok := decodeDaysOff(s.DaysOff); ok && off.Status == 1 {
		day.Off = true
		day.OffReason = off.Description
		if day.OffReason == "" {
			day.OffReason = defaultOffReason
		}
		return day, nil
	}

	var (
		category   string
		inWith     bool
		haveEntree bool
	)
	for _, row := range s.CurrentDisplay {
		switch row.Type {
		case "category":
			category = strings.ToLower(row.Name)
			inWith = false
		case "text":
			if strings.Contains(strings.ToLower(row.Name), "with") {
				inWith = true
			}
		case "recipe":
			item := model.MenuItem{
				Name:        strings.TrimSpace(row.Name),
				Description: strings.TrimSpace(row.Description),
				Category:    categorize(category),
			}
			if item.Category == model.CategoryEntree {
				if inWith || haveEntree {
					item.Category = model.CategorySide
				} else if item.Name != "" {
					haveEntree = true
				}
			}
			day.Items = append(day.Items, item)
		}
	}

	return day, nil
}

func decodeDaysOff(raw json.RawMessage) (daysOff, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return daysOff{}, false
	}
	var off daysOff
	if err := json.Unmarshal(raw, &off); err != nil {
		return daysOff{}, false
	}
	return off, true
}

func categorize(section string) model.Category {
	switch {
	case strings.Contains(section, "entree"):
		return model.CategoryEntree
	case strings.Contains(section, "vegetable"):
		return model.CategoryVegetable
	case strings.Contains(section, "fruit"):
		return model.CategoryFruit
	case strings.Contains(section, "milk"):
		return model.CategoryMilk
	default:
		return model.CategorySide
	}
}
