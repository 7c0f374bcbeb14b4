package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultAction is used when the whole input was a time phrase and no
// instruction remained. The execution side is not required to handle empty
// instructions, so this is never the empty string.
const DefaultAction = "reminder"

// UsableConfidence is the threshold below which a rule-based parse is not
// trusted and the fallback parser (if any) is consulted.
const UsableConfidence = 0.5

// Fixed per-category confidences. A whole-phrase structural match is treated
// as unambiguous; interval phrases score slightly lower because they say
// nothing about the start phase, and one-time relative phrases lower still.
const (
	confPeriodic = 0.9
	confInterval = 0.8
	confOneTime  = 0.75
)

// Source records which path produced a Parsed value.
type Source string

const (
	SourceRule     Source = "rule"
	SourceFallback Source = "fallback"
)

// Parsed is the transient result of parsing a natural-language request.
// It is never persisted; the engine turns it into a task.
type Parsed struct {
	Recurrence Recurrence
	Action     string
	Confidence float64
	Source     Source
}

// Usable reports whether the parse is confident enough to act on.
func (p Parsed) Usable() bool { return p.Confidence >= UsableConfidence }

// Parse derives a recurrence rule or a one-time instant from free-form text.
//
// It never fails: when no pattern matches it returns Confidence 0 with the
// trimmed input as Action, which is the caller's cue to try a fallback
// parser. When the text contains several time phrases only the first match
// in category priority order is honored; the rest stay in the action text.
func Parse(text string, ref time.Time, loc *time.Location) Parsed {
	if loc == nil {
		loc = time.Local
	}
	trimmed := strings.TrimSpace(text)

	for _, cat := range categories {
		for _, m := range cat.matchers {
			idx := m.re.FindStringSubmatchIndex(trimmed)
			if idx == nil {
				continue
			}
			sub := m.re.FindStringSubmatch(trimmed)
			rec, ok := m.build(sub, ref, loc)
			if !ok {
				continue
			}
			return Parsed{
				Recurrence: rec,
				Action:     residual(trimmed, idx[0], idx[1]),
				Confidence: cat.conf,
				Source:     SourceRule,
			}
		}
	}

	action := trimmed
	if action == "" {
		action = DefaultAction
	}
	return Parsed{Action: action, Confidence: 0, Source: SourceRule}
}

type matcher struct {
	re    *regexp.Regexp
	build func(sub []string, ref time.Time, loc *time.Location) (Recurrence, bool)
}

type matchCategory struct {
	conf     float64
	matchers []matcher
}

// timeRx is the shared English time-of-day fragment: hour, optional minutes,
// optional meridiem.
const timeRx = `(\d{1,2})(?::(\d{2}))?\s*(am|pm)?`

// cnTimeRx is the Chinese equivalent: optional period marker, hour, optional
// minutes ("半" = 30).
const cnTimeRx = `(早上|上午|中午|下午|晚上)?(\d{1,2})[点时](半|\d{1,2}分?)?`

const dowRx = `(monday|tuesday|wednesday|thursday|friday|saturday|sunday)`

var categories = []matchCategory{
	{conf: confPeriodic, matchers: []matcher{
		// 1. Daily / weekly at a time of day.
		{re: regexp.MustCompile(`(?i)\b(?:every\s+day|daily)\s+(?:at\s+)?` + timeRx), build: buildDaily},
		{re: regexp.MustCompile(`(?i)\bevery\s+` + dowRx + `(?:\s+(?:at\s+)?` + timeRx + `)?\b`), build: buildWeekly},
		{re: regexp.MustCompile(`每天` + cnTimeRx), build: buildDailyCN},
		{re: regexp.MustCompile(`每(?:周|星期)([一二三四五六日天])(?:` + cnTimeRx + `)?`), build: buildWeeklyCN},

		// 2. Weekday / weekend sets.
		{re: regexp.MustCompile(`(?i)\b(?:every\s+weekday|weekdays)(?:\s+(?:at\s+)?` + timeRx + `)?\b`), build: buildDowSet("1-5")},
		{re: regexp.MustCompile(`(?i)\b(?:every\s+weekend|weekends)(?:\s+(?:at\s+)?` + timeRx + `)?\b`), build: buildDowSet("0,6")},
		{re: regexp.MustCompile(`(?:每个?)?工作日(?:` + cnTimeRx + `)?`), build: buildDowSetCN("1-5")},
		{re: regexp.MustCompile(`(?:每个?)?周末(?:` + cnTimeRx + `)?`), build: buildDowSetCN("0,6")},
	}},
	{conf: confInterval, matchers: []matcher{
		// 3. Intervals. Start phase is aligned to the clock (*/N), matching
		// how the cron rule will actually fire.
		{re: regexp.MustCompile(`(?i)\bevery\s+(\d+)\s+minutes?\b`), build: buildEveryMinutes},
		{re: regexp.MustCompile(`(?i)\bevery\s+(\d+)\s+hours?\b`), build: buildEveryHours},
		{re: regexp.MustCompile(`(?i)\bevery\s+hour\b`), build: buildHourly},
		{re: regexp.MustCompile(`每隔?(\d+)分钟`), build: buildEveryMinutes},
		{re: regexp.MustCompile(`每隔?(\d+)个?小时`), build: buildEveryHours},
		{re: regexp.MustCompile(`每小时`), build: buildHourly},
	}},
	{conf: confOneTime, matchers: []matcher{
		// 4. One-time relative phrases.
		{re: regexp.MustCompile(`(?i)\btomorrow(?:\s+(?:at\s+)?` + timeRx + `)?\b`), build: buildTomorrow},
		{re: regexp.MustCompile(`明天(?:` + cnTimeRx + `)?`), build: buildTomorrowCN},
		{re: regexp.MustCompile(`(?i)\bnext\s+` + dowRx + `(?:\s+(?:at\s+)?` + timeRx + `)?\b`), build: buildNextDow},
		{re: regexp.MustCompile(`下个?(?:周|星期)([一二三四五六日天])(?:` + cnTimeRx + `)?`), build: buildNextDowCN},
	}},
}

// defaultHour is the time of day assumed when a phrase names a day but no
// clock time ("every monday", "明天").
const defaultHour = 9

// clockEN resolves an English hour/minute/meridiem triple. A bare numeral
// without am/pm is taken as stated when >=13 (24-hour clock) and as morning
// otherwise; this convention is deliberate and covered by tests.
func clockEN(hourStr, minStr, meridiem string) (hour, minute int, ok bool) {
	hour, err := strconv.Atoi(hourStr)
	if err != nil || hour > 23 {
		return 0, 0, false
	}
	if minStr != "" {
		minute, err = strconv.Atoi(minStr)
		if err != nil || minute > 59 {
			return 0, 0, false
		}
	}
	switch strings.ToLower(meridiem) {
	case "pm":
		if hour > 12 {
			return 0, 0, false
		}
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour > 12 {
			return 0, 0, false
		}
		if hour == 12 {
			hour = 0
		}
	}
	return hour, minute, true
}

// clockCN resolves a Chinese period-marker/hour/minute triple.
// 下午/晚上 shift hours below 12 into the afternoon/evening.
func clockCN(marker, hourStr, minPart string) (hour, minute int, ok bool) {
	hour, err := strconv.Atoi(hourStr)
	if err != nil || hour > 23 {
		return 0, 0, false
	}
	switch minPart {
	case "", "半":
		if minPart == "半" {
			minute = 30
		}
	default:
		minute, err = strconv.Atoi(strings.TrimSuffix(minPart, "分"))
		if err != nil || minute > 59 {
			return 0, 0, false
		}
	}
	if (marker == "下午" || marker == "晚上") && hour < 12 {
		hour += 12
	}
	return hour, minute, true
}

func cronAt(minute, hour int, dow string) Recurrence {
	return Recurrence{Spec: fmt.Sprintf("%d %d * * %s", minute, hour, dow)}
}

func buildDaily(sub []string, _ time.Time, _ *time.Location) (Recurrence, bool) {
	h, m, ok := clockEN(sub[1], sub[2], sub[3])
	if !ok {
		return Recurrence{}, false
	}
	return cronAt(m, h, "*"), true
}

func buildDailyCN(sub []string, _ time.Time, _ *time.Location) (Recurrence, bool) {
	h, m, ok := clockCN(sub[1], sub[2], sub[3])
	if !ok {
		return Recurrence{}, false
	}
	return cronAt(m, h, "*"), true
}

var enWeekdays = map[string]int{
	"sunday": 0, "monday": 1, "tuesday": 2, "wednesday": 3,
	"thursday": 4, "friday": 5, "saturday": 6,
}

var cnWeekdays = map[string]int{
	"一": 1, "二": 2, "三": 3, "四": 4, "五": 5, "六": 6, "日": 0, "天": 0,
}

func buildWeekly(sub []string, _ time.Time, _ *time.Location) (Recurrence, bool) {
	dow, ok := enWeekdays[strings.ToLower(sub[1])]
	if !ok {
		return Recurrence{}, false
	}
	h, m := defaultHour, 0
	if sub[2] != "" {
		if h, m, ok = clockEN(sub[2], sub[3], sub[4]); !ok {
			return Recurrence{}, false
		}
	}
	return cronAt(m, h, strconv.Itoa(dow)), true
}

func buildWeeklyCN(sub []string, _ time.Time, _ *time.Location) (Recurrence, bool) {
	dow, ok := cnWeekdays[sub[1]]
	if !ok {
		return Recurrence{}, false
	}
	h, m := defaultHour, 0
	if sub[3] != "" {
		if h, m, ok = clockCN(sub[2], sub[3], sub[4]); !ok {
			return Recurrence{}, false
		}
	}
	return cronAt(m, h, strconv.Itoa(dow)), true
}

func buildDowSet(set string) func([]string, time.Time, *time.Location) (Recurrence, bool) {
	return func(sub []string, _ time.Time, _ *time.Location) (Recurrence, bool) {
		h, m := defaultHour, 0
		if sub[1] != "" {
			var ok bool
			if h, m, ok = clockEN(sub[1], sub[2], sub[3]); !ok {
				return Recurrence{}, false
			}
		}
		return cronAt(m, h, set), true
	}
}

func buildDowSetCN(set string) func([]string, time.Time, *time.Location) (Recurrence, bool) {
	return func(sub []string, _ time.Time, _ *time.Location) (Recurrence, bool) {
		h, m := defaultHour, 0
		if sub[2] != "" {
			var ok bool
			if h, m, ok = clockCN(sub[1], sub[2], sub[3]); !ok {
				return Recurrence{}, false
			}
		}
		return cronAt(m, h, set), true
	}
}

func buildEveryMinutes(sub []string, _ time.Time, _ *time.Location) (Recurrence, bool) {
	n, err := strconv.Atoi(sub[1])
	if err != nil || n < 1 || n > 59 {
		return Recurrence{}, false
	}
	return Recurrence{Spec: fmt.Sprintf("*/%d * * * *", n)}, true
}

func buildEveryHours(sub []string, _ time.Time, _ *time.Location) (Recurrence, bool) {
	n, err := strconv.Atoi(sub[1])
	if err != nil || n < 1 || n > 23 {
		return Recurrence{}, false
	}
	return Recurrence{Spec: fmt.Sprintf("0 */%d * * *", n)}, true
}

func buildHourly(_ []string, _ time.Time, _ *time.Location) (Recurrence, bool) {
	return Recurrence{Spec: "0 * * * *"}, true
}

func buildTomorrow(sub []string, ref time.Time, loc *time.Location) (Recurrence, bool) {
	h, m := defaultHour, 0
	if sub[1] != "" {
		var ok bool
		if h, m, ok = clockEN(sub[1], sub[2], sub[3]); !ok {
			return Recurrence{}, false
		}
	}
	return onceAtDayOffset(ref, loc, 1, h, m), true
}

func buildTomorrowCN(sub []string, ref time.Time, loc *time.Location) (Recurrence, bool) {
	h, m := defaultHour, 0
	if sub[2] != "" {
		var ok bool
		if h, m, ok = clockCN(sub[1], sub[2], sub[3]); !ok {
			return Recurrence{}, false
		}
	}
	return onceAtDayOffset(ref, loc, 1, h, m), true
}

func buildNextDow(sub []string, ref time.Time, loc *time.Location) (Recurrence, bool) {
	dow, ok := enWeekdays[strings.ToLower(sub[1])]
	if !ok {
		return Recurrence{}, false
	}
	h, m := defaultHour, 0
	if sub[2] != "" {
		if h, m, ok = clockEN(sub[2], sub[3], sub[4]); !ok {
			return Recurrence{}, false
		}
	}
	return onceAtDayOffset(ref, loc, daysUntil(ref.In(loc).Weekday(), time.Weekday(dow)), h, m), true
}

func buildNextDowCN(sub []string, ref time.Time, loc *time.Location) (Recurrence, bool) {
	dow, ok := cnWeekdays[sub[1]]
	if !ok {
		return Recurrence{}, false
	}
	h, m := defaultHour, 0
	if sub[3] != "" {
		if h, m, ok = clockCN(sub[2], sub[3], sub[4]); !ok {
			return Recurrence{}, false
		}
	}
	return onceAtDayOffset(ref, loc, daysUntil(ref.In(loc).Weekday(), time.Weekday(dow)), h, m), true
}

// daysUntil returns the number of days from 'from' to the nearest strictly
// future occurrence of 'to'. "Next Monday" on a Monday means 7 days out,
// never today.
func daysUntil(from, to time.Weekday) int {
	d := (int(to) - int(from) + 7) % 7
	if d == 0 {
		d = 7
	}
	return d
}

func onceAtDayOffset(ref time.Time, loc *time.Location, days, hour, minute int) Recurrence {
	r := ref.In(loc)
	return Recurrence{At: time.Date(r.Year(), r.Month(), r.Day()+days, hour, minute, 0, 0, loc)}
}

// residual removes the matched time phrase and tidies what remains.
func residual(text string, lo, hi int) string {
	rest := text[:lo] + " " + text[hi:]
	rest = strings.Join(strings.Fields(rest), " ")
	rest = strings.Trim(rest, " ,.;:、，。；：")
	if rest == "" {
		return DefaultAction
	}
	return rest
}
