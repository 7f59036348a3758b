package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

const dateLayout = "2006-01-02"

// Date is a calendar date without a time-of-day component. It is comparable
// and can be used as a map key.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

// DateOf returns the date t falls on in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Time returns midnight UTC of d.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) String() string {
	return d.Time().Format(dateLayout)
}

func (d Date) IsZero() bool {
	return d == Date{}
}

// AddDays returns d shifted by n days, normalizing month/year overflow.
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

func (d Date) Before(o Date) bool {
	return d.Time().Before(o.Time())
}

func (d Date) After(o Date) bool {
	return d.Time().After(o.Time())
}

// YearMonth identifies one calendar month.
type YearMonth struct {
	Year  int
	Month time.Month
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month))
}

// First returns the first day of the month.
func (ym YearMonth) First() Date {
	return Date{Year: ym.Year, Month: ym.Month, Day: 1}
}

// Last returns the last day of the month.
func (ym YearMonth) Last() Date {
	return DateOf(ym.First().Time().AddDate(0, 1, -1))
}

// DateRange is an inclusive range of calendar dates.
type DateRange struct {
	Start Date
	End   Date
}

var ErrInvalidRange = errors.New("date range start is after end")

func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return errors.New("date range start and end are required")
	}
	if r.Start.After(r.End) {
		return fmt.Errorf("%w: %s > %s", ErrInvalidRange, r.Start, r.End)
	}
	return nil
}

func (r DateRange) Contains(d Date) bool {
	return !d.Before(r.Start) && !d.After(r.End)
}

func (r DateRange) String() string {
	return r.Start.String() + ".." + r.End.String()
}

// Days enumerates every date of the range in ascending order.
func (r DateRange) Days() ([]Date, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:    rrule.DAILY,
		Dtstart: r.Start.Time(),
		Until:   r.End.Time(),
	})
	if err != nil {
		return nil, err
	}
	occ := rule.All()
	days := make([]Date, 0, len(occ))
	for _, t := range occ {
		days = append(days, DateOf(t.UTC()))
	}
	return days, nil
}

// Months returns each month the range touches, in order.
func (r DateRange) Months() []YearMonth {
	if r.Validate() != nil {
		return nil
	}
	var out []YearMonth
	cur := YearMonth{Year: r.Start.Year, Month: r.Start.Month}
	last := YearMonth{Year: r.End.Year, Month: r.End.Month}
	for {
		out = append(out, cur)
		if cur == last {
			return out
		}
		next := DateOf(cur.First().Time().AddDate(0, 1, 0))
		cur = YearMonth{Year: next.Year, Month: next.Month}
	}
}

// CurrentMonth returns the full month containing now in loc.
func CurrentMonth(now time.Time, loc *time.Location) DateRange {
	if loc == nil {
		loc = time.Local
	}
	today := DateOf(now.In(loc))
	ym := YearMonth{Year: today.Year, Month: today.Month}
	return MonthRange(ym, ym)
}

// MonthRange spans from the first day of from to the last day of to.
func MonthRange(from, to YearMonth) DateRange {
	return DateRange{Start: from.First(), End: to.Last()}
}

// Category classifies a menu item within a meal.
type Category string

const (
	CategoryEntree    Category = "entree"
	CategorySide      Category = "side"
	CategoryVegetable Category = "vegetable"
	CategoryFruit     Category = "fruit"
	CategoryMilk      Category = "milk"
)

// MenuItem is one food offering on a school day.
type MenuItem struct {
	Name        string
	Category    Category
	Description string
}

// MenuDay holds everything served on a single date. Off marks a published
// day without school (holiday, break); such days carry no items.
type MenuDay struct {
	Date      Date
	Items     []MenuItem
	Off       bool
	OffReason string
}

// Menu is the result of one fetch: the requested range and one MenuDay for
// every date inside it.
type Menu struct {
	Range DateRange
	Days  map[Date]MenuDay
}

// ItemCount sums items across all days.
func (m Menu) ItemCount() int {
	n := 0
	for _, d := range m.Days {
		n += len(d.Items)
	}
	return n
}

// CalendarEvent is a single all-day calendar entry derived from a MenuDay.
type CalendarEvent struct {
	UID         string
	Date        Date
	AllDay      bool
	Title       string
	Description string
}
