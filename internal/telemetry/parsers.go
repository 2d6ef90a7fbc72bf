package telemetry

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/vthunder/clr/internal/types"
)

// extractor pulls source-specific fields out of a raw payload
type extractor func(data map[string]any) map[string]any

type mapping struct {
	eventType string
	extract   extractor
}

// academicDomains are hosts treated as study material rather than distraction
var academicDomains = []string{
	"scholar.google.com",
	"arxiv.org",
	"pubmed.ncbi.nlm.nih.gov",
	"jstor.org",
	"semanticscholar.org",
	"coursera.org",
	"edx.org",
	"khanacademy.org",
	"stackoverflow.com",
	"docs.python.org",
	"developer.mozilla.org",
}

// parsers maps each source to its raw plugin event names
var parsers = map[types.Source]map[string]mapping{
	types.SourceBrowser: {
		"TAB_SWITCH":   {types.EventTabSwitch, browserTab},
		"TAB_CLOSE":    {types.EventTabSwitch, browserTab},
		"NAVIGATION":   {types.EventNavigation, browserNav},
		"PAGE_SCROLL":  {types.EventScroll, scrollDelta},
		"FOCUS_LOST":   {types.EventWindowChange, fixedApp("browser")},
		"FOCUS_GAINED": {types.EventWindowChange, fixedApp("browser")},
		"IDLE_START":   {types.EventIdleStart, nil},
		"IDLE_END":     {types.EventIdleEnd, nil},
	},
	types.SourceIDE: {
		"COMPILE_ERROR":   {types.EventCompileError, ideCompileError},
		"TEST_FAIL":       {types.EventCompileError, ideCompileError},
		"COMPILE_SUCCESS": {types.EventCompileSuccess, nil},
		"TEST_PASS":       {types.EventCompileSuccess, nil},
		"FILE_SAVE":       {types.EventFileSave, copyKeys("file")},
		"FILE_SWITCH":     {types.EventWindowChange, ideFileSwitch},
		"KEYSTROKE":       {types.EventKeystroke, ideKeystroke},
		"DEBUG_START":     {types.EventDebugStart, nil},
		"DEBUG_STOP":      {types.EventDebugStop, nil},
		"TERMINAL_CMD":    {types.EventTerminalCmd, copyKeys("command")},
	},
	types.SourceDesktop: {
		"WINDOW_FOCUS":  {types.EventWindowChange, copyKeys("app", "title")},
		"WINDOW_BLUR":   {types.EventWindowChange, copyKeys("app", "title")},
		"MOUSE_IDLE":    {types.EventIdleStart, nil},
		"SCREEN_LOCK":   {types.EventIdleStart, nil},
		"MOUSE_ACTIVE":  {types.EventIdleEnd, nil},
		"SCREEN_UNLOCK": {types.EventIdleEnd, nil},
	},
	types.SourceLMS: {
		"QUIZ_FAIL":         {types.EventCompileError, lmsFailure},
		"QUIZ_RETRY":        {types.EventCompileError, lmsFailure},
		"SUBMISSION_LATE":   {types.EventCompileError, lmsFailure},
		"GRADE_FAIL":        {types.EventCompileError, lmsFailure},
		"COURSE_NAVIGATE":   {types.EventTabSwitch, browserTab},
		"DISCUSSION_VIEW":   {types.EventTabSwitch, browserTab},
		"TAB_SWITCH":        {types.EventTabSwitch, browserTab},
		"ASSIGNMENT_VIEW":   {types.EventWindowChange, lmsSection("assignment")},
		"QUIZ_START":        {types.EventWindowChange, lmsSection("quiz")},
		"QUIZ_SUBMIT":       {types.EventWindowChange, lmsSection("quiz")},
		"RESOURCE_OPEN":     {types.EventWindowChange, lmsSection("resource")},
		"GRADE_VIEW":        {types.EventWindowChange, lmsSection("grades")},
		"ANNOUNCEMENT_VIEW": {types.EventWindowChange, lmsSection("announcements")},
		"LMS_SCROLL":        {types.EventScroll, scrollDelta},
		"RESOURCE_SCROLL":   {types.EventScroll, scrollDelta},
		"LMS_IDLE":          {types.EventIdleStart, nil},
		"PAGE_HIDDEN":       {types.EventIdleStart, nil},
		"LMS_ACTIVE":        {types.EventIdleEnd, nil},
		"PAGE_VISIBLE":      {types.EventIdleEnd, nil},
	},
}

// lookup resolves a raw or already-normalized type for a source
func lookup(src types.Source, rawType string) (mapping, bool) {
	table := parsers[src]
	if m, ok := table[strings.ToUpper(rawType)]; ok {
		return m, true
	}
	// Collectors that normalize on their side send the internal name.
	for _, m := range table {
		if m.eventType == rawType {
			return mapping{eventType: rawType, extract: normalizedExtractor(rawType)}, true
		}
	}
	return mapping{}, false
}

// normalizedExtractor re-derives computed fields for events that arrive
// already carrying an internal type name.
func normalizedExtractor(eventType string) extractor {
	switch eventType {
	case types.EventTabSwitch:
		return browserTab
	case types.EventNavigation:
		return browserNav
	case types.EventScroll:
		return scrollDelta
	case types.EventKeystroke:
		return ideKeystroke
	case types.EventCompileError:
		return ideCompileError
	}
	return passthrough
}

// KnownTypes lists the raw names accepted for a source, for error messages
func KnownTypes(src types.Source) []string {
	var out []string
	for k := range parsers[src] {
		out = append(out, k)
	}
	return out
}

func passthrough(data map[string]any) map[string]any {
	return data
}

// pick returns the first present key, letting collectors use either
// camelCase or snake_case field names.
func pick(data map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := data[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func str(data map[string]any, keys ...string) string {
	v, ok := pick(data, keys...)
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func num(data map[string]any, keys ...string) float64 {
	v, ok := pick(data, keys...)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

// Domain returns the lowercased host of a URL without a www. prefix
func Domain(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		u, err = url.Parse("https://" + raw)
		if err != nil {
			return ""
		}
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// IsAcademic reports whether a URL points to a known study resource
func IsAcademic(raw string) bool {
	host := Domain(raw)
	if host == "" {
		return false
	}
	for _, d := range academicDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func browserTab(data map[string]any) map[string]any {
	to := str(data, "to_url", "toUrl", "url")
	return map[string]any{
		"from_url":    str(data, "from_url", "fromUrl"),
		"to_url":      to,
		"domain":      Domain(to),
		"is_academic": IsAcademic(to),
	}
}

func browserNav(data map[string]any) map[string]any {
	u := str(data, "url")
	return map[string]any{
		"url":         u,
		"domain":      Domain(u),
		"is_academic": IsAcademic(u),
	}
}

func scrollDelta(data map[string]any) map[string]any {
	return map[string]any{
		"delta_y": num(data, "delta_y", "deltaY"),
		"url":     str(data, "url"),
	}
}

func fixedApp(app string) extractor {
	return func(data map[string]any) map[string]any {
		return map[string]any{"app": app}
	}
}

func copyKeys(keys ...string) extractor {
	return func(data map[string]any) map[string]any {
		out := make(map[string]any, len(keys))
		for _, k := range keys {
			if v, ok := data[k]; ok {
				out[k] = v
			}
		}
		return out
	}
}

func ideCompileError(data map[string]any) map[string]any {
	count := num(data, "error_count", "errorCount")
	if count <= 0 {
		count = 1
	}
	return map[string]any{
		"error_count": count,
		"file":        str(data, "file"),
	}
}

func ideFileSwitch(data map[string]any) map[string]any {
	return map[string]any{
		"app":  "vscode",
		"file": str(data, "file"),
	}
}

func ideKeystroke(data map[string]any) map[string]any {
	return map[string]any{
		"interval_ms": num(data, "interval_ms", "intervalMs"),
	}
}

func lmsFailure(data map[string]any) map[string]any {
	return map[string]any{
		"error_count": 1.0,
		"course":      str(data, "course", "course_id", "courseId"),
	}
}

func lmsSection(section string) extractor {
	return func(data map[string]any) map[string]any {
		lms := str(data, "lms", "platform")
		if lms == "" {
			lms = "lms"
		}
		return map[string]any{
			"app":    lms + ":" + section,
			"course": str(data, "course", "course_id", "courseId"),
		}
	}
}
