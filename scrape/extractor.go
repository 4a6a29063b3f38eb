// Package scrape turns pages from the learning site into observed
// assignments: course discovery, the embedded-payload extractor, and the
// status inference engine. It drives the site exclusively through the
// session manager's guarded navigation, so a mid-scrape session death is
// recoverable instead of fatal.
package scrape

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/campushq/coursetrack/browser"
	istrings "github.com/campushq/coursetrack/internal/strings"
)

// Session is the slice of the session manager the extractor needs.
type Session interface {
	// Navigate joins path onto the session-scoped base address and is
	// guarded: it refreshes and retries once on detected invalidity.
	Navigate(path, description string) error
	Page() browser.Page
	IsValid() bool
	Refresh() bool
	KeepAlive()
}

// Progress reports per-course completion: done counts courses processed
// so far including failures, so a polling progress bar never stalls.
type Progress func(done, total int, courseName string)

// CourseResult is one course's outcome, delivered to the onCourse hook as
// soon as the course finishes so reconciliation can run incrementally.
type CourseResult struct {
	Course      Course
	Assignments []ObservedAssignment
	Err         error
}

// Report summarizes a full scrape pass.
type Report struct {
	TotalCourses   int
	CoursesScraped int
	FailedCourses  []string
	Assignments    []ObservedAssignment
}

// Options configures an Extractor.
type Options struct {
	// Session drives all navigation. Required.
	Session Session
	// StaticBaseURL is the site root without a session segment, used to
	// build durable links. Required.
	StaticBaseURL string
	// Timezone is the institution's local zone for due dates.
	// Nil means UTC.
	Timezone *time.Location
	// MinPrimaryItems is the threshold below which the exams view
	// supplements the primary payload. Zero means 5.
	MinPrimaryItems int
	// Logger receives per-course events. Nil means the standard logger.
	Logger logrus.FieldLogger
}

// Extractor scrapes assignments for every enrolled course.
type Extractor struct {
	sess        Session
	staticBase  string
	tz          *time.Location
	minPrimary  int
	log         logrus.FieldLogger
	sessionSeg  *regexp.Regexp
	now         func() time.Time
}

var (
	coursePattern  = regexp.MustCompile(`[A-Z]{1,5}(?:\s+[A-Z])?\s+\d{3}[A-Z]?\s*\([^)]+\)\s*-\s*[^\n]+`)
	courseCodeHead = regexp.MustCompile(`^[A-Z]{1,5}(?:\s+[A-Z])?\s+\d{3}`)
	trailingButton = regexp.MustCompile(`\s+(Go|View|Open)\s*$`)
	cidPattern     = regexp.MustCompile(`cid-([A-Za-z0-9_-]+)`)
	examIDPattern  = regexp.MustCompile(`id-([A-Za-z0-9_-]+)`)

	payloadPattern    = regexp.MustCompile(`var\s+assignments\s*=\s*(\[[\s\S]*?\]);`)
	payloadAltPattern = regexp.MustCompile(`assignments\s*:\s*(\[[\s\S]*?\]),`)
	trailingCommaArr  = regexp.MustCompile(`,\s*\]`)
	trailingCommaObj  = regexp.MustCompile(`,\s*\}`)
)

// NewExtractor creates an Extractor over an established session.
func NewExtractor(opts Options) (*Extractor, error) {
	if opts.Session == nil {
		return nil, fmt.Errorf("scrape: session is required")
	}
	if opts.StaticBaseURL == "" {
		return nil, fmt.Errorf("scrape: static base URL is required")
	}
	if opts.Timezone == nil {
		opts.Timezone = time.UTC
	}
	if opts.MinPrimaryItems == 0 {
		opts.MinPrimaryItems = 5
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	staticBase := strings.TrimRight(opts.StaticBaseURL, "/")
	return &Extractor{
		sess:       opts.Session,
		staticBase: staticBase,
		tz:         opts.Timezone,
		minPrimary: opts.MinPrimaryItems,
		log:        opts.Logger,
		sessionSeg: regexp.MustCompile(regexp.QuoteMeta(staticBase) + `/\.[A-Za-z0-9]+`),
		now:        time.Now,
	}, nil
}

// DiscoverCourses finds enrolled courses on the student home page. A
// course is a cid link whose own text is a course name; matching on link
// text avoids pairing a name with a neighboring course's link.
func (e *Extractor) DiscoverCourses() ([]Course, error) {
	if err := e.sess.Navigate("/student/top", "student home"); err != nil {
		return nil, fmt.Errorf("open student home: %w", err)
	}
	links, err := e.sess.Page().FindLinks("cid-")
	if err != nil {
		return nil, fmt.Errorf("scan course links: %w", err)
	}

	var courses []Course
	seen := map[string]bool{}
	for _, link := range links {
		cidMatch := cidPattern.FindStringSubmatch(link.Href)
		if cidMatch == nil {
			continue
		}
		cid := cidMatch[1]
		if seen[cid] {
			continue
		}
		name := coursePattern.FindString(istrings.NormalizeWhitespace(link.Text))
		if name == "" {
			continue
		}
		name = strings.TrimSpace(trailingButton.ReplaceAllString(name, ""))
		if !courseCodeHead.MatchString(name) {
			continue
		}
		seen[cid] = true
		courses = append(courses, Course{ID: cid, Name: name})
	}

	e.log.WithField("courses", len(courses)).Info("discovered courses")
	return courses, nil
}

// ScrapeAllCourses extracts every course's assignments. Per-course
// failures are absorbed: the course is recorded as failed, progress still
// advances, and failed courses get one batch retry at the end if the
// session can be revalidated. onCourse fires once per finished course
// (including retries that recover) so callers can reconcile incrementally.
func (e *Extractor) ScrapeAllCourses(progress Progress, onCourse func(CourseResult)) (Report, error) {
	courses, err := e.DiscoverCourses()
	if err != nil {
		return Report{}, err
	}
	if len(courses) == 0 {
		return Report{}, fmt.Errorf("no courses found on student home")
	}

	report := Report{TotalCourses: len(courses)}
	total := len(courses)
	if progress != nil {
		progress(0, total, "")
	}

	var failed []Course
	for i, course := range courses {
		log := e.log.WithField("course", course.Name)

		if !e.sess.IsValid() {
			log.Warn("session invalid before course, refreshing")
			if !e.sess.Refresh() {
				log.Error("session refresh failed, queueing course for retry")
				failed = append(failed, course)
				e.finishCourse(&report, progress, onCourse, i+1, total, CourseResult{
					Course: course,
					Err:    fmt.Errorf("session could not be refreshed"),
				})
				continue
			}
		}
		if i > 0 && i%2 == 0 {
			e.sess.KeepAlive()
		}

		assignments, err := e.scrapeCourse(course)
		if err != nil {
			log.WithError(err).Warn("course extraction failed")
			if !e.sess.IsValid() && e.sess.Refresh() {
				assignments, err = e.scrapeCourse(course)
			}
		}
		if err != nil {
			log.WithError(err).Error("course extraction failed after retry")
			failed = append(failed, course)
			e.finishCourse(&report, progress, onCourse, i+1, total, CourseResult{Course: course, Err: err})
			continue
		}

		log.WithField("assignments", len(assignments)).Info("course scraped")
		report.CoursesScraped++
		e.finishCourse(&report, progress, onCourse, i+1, total, CourseResult{Course: course, Assignments: assignments})
	}

	// Batch retry of failed courses with whatever session budget remains.
	if len(failed) > 0 && (e.sess.IsValid() || e.sess.Refresh()) {
		var stillFailed []Course
		for _, course := range failed {
			if !e.sess.IsValid() {
				stillFailed = append(stillFailed, course)
				continue
			}
			assignments, err := e.scrapeCourse(course)
			if err != nil {
				e.log.WithField("course", course.Name).WithError(err).Error("retry failed")
				stillFailed = append(stillFailed, course)
				continue
			}
			e.log.WithField("course", course.Name).Info("course recovered on retry")
			report.CoursesScraped++
			report.Assignments = append(report.Assignments, assignments...)
			if onCourse != nil {
				onCourse(CourseResult{Course: course, Assignments: assignments})
			}
		}
		failed = stillFailed
	}

	for _, course := range failed {
		report.FailedCourses = append(report.FailedCourses, course.Name)
	}
	return report, nil
}

func (e *Extractor) finishCourse(report *Report, progress Progress, onCourse func(CourseResult), done, total int, result CourseResult) {
	report.Assignments = append(report.Assignments, result.Assignments...)
	if onCourse != nil {
		onCourse(result)
	}
	if progress != nil {
		name := result.Course.Name
		if result.Err != nil {
			name += " (failed)"
		}
		progress(done, total, name)
	}
}

// scrapeCourse extracts one course: the gradebook's embedded payload
// first, supplemented by the exams view when the payload is thin.
func (e *Extractor) scrapeCourse(course Course) ([]ObservedAssignment, error) {
	if err := e.sess.Navigate("/cid-"+course.ID+"/student/gradebook", course.Name+" gradebook"); err != nil {
		return nil, err
	}
	source, err := e.sess.Page().Source()
	if err != nil {
		return nil, fmt.Errorf("read gradebook: %w", err)
	}

	assignments := e.extractEmbedded(source, course)
	seen := make(map[string]bool, len(assignments))
	for _, a := range assignments {
		seen[a.Title] = true
	}

	if len(assignments) < e.minPrimary {
		exams, err := e.scrapeExamsView(course)
		if err != nil {
			e.log.WithField("course", course.Name).WithError(err).Warn("exams view supplement failed")
		}
		for _, exam := range exams {
			if !seen[exam.Title] {
				seen[exam.Title] = true
				assignments = append(assignments, exam)
			}
		}
	}

	return assignments, nil
}

// payloadItem is the shape of one entry in the page's embedded
// "var assignments = [...]" array. Loosely typed fields arrive as either
// strings or numbers depending on the item.
type payloadItem struct {
	Name        string          `json:"name"`
	DueDate     string          `json:"dueDate"`
	FullDueTime string          `json:"fullDueTime"`
	Score       json.RawMessage `json:"score"`
	Graded      bool            `json:"graded"`
	Submitted   bool            `json:"submitted"`
	ButtonText  string          `json:"buttonText"`
	Button      string          `json:"button"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	URL         json.RawMessage `json:"url"`
	ID          json.RawMessage `json:"id"`
}

// extractEmbedded pulls the structured assignment payload the site embeds
// in the gradebook page.
func (e *Extractor) extractEmbedded(source string, course Course) []ObservedAssignment {
	match := payloadPattern.FindStringSubmatch(source)
	if match == nil {
		match = payloadAltPattern.FindStringSubmatch(source)
	}
	if match == nil {
		e.log.WithField("course", course.Name).Debug("no embedded payload found")
		return nil
	}

	payload := strings.ReplaceAll(match[1], `\/`, `/`)
	var items []payloadItem
	if err := json.Unmarshal([]byte(payload), &items); err != nil {
		payload = trailingCommaArr.ReplaceAllString(payload, "]")
		payload = trailingCommaObj.ReplaceAllString(payload, "}")
		if err := json.Unmarshal([]byte(payload), &items); err != nil {
			e.log.WithField("course", course.Name).WithError(err).Warn("embedded payload unparseable")
			return nil
		}
	}

	var assignments []ObservedAssignment
	for _, item := range items {
		if converted, ok := e.convertItem(item, course); ok {
			assignments = append(assignments, converted)
		}
	}
	return assignments
}

func (e *Extractor) convertItem(item payloadItem, course Course) (ObservedAssignment, bool) {
	title := CleanTitle(item.Name)
	if len(title) < 2 {
		return ObservedAssignment{}, false
	}

	signal := item.ButtonText
	if signal == "" {
		signal = item.Button
	}
	hasScore := rawPresent(item.Score)
	status := InferStatus(signal, hasScore || item.Graded, "")

	now := e.now()
	due := ParseSiteDate(item.DueDate, now, e.tz)
	if due == nil {
		due = ParseSiteDate(item.FullDueTime, now, e.tz)
	}
	if status == StatusUnavailable && due == nil {
		due = ExtractOpensDate(signal, now, e.tz)
	}

	typ := InferType(item.Type, title)
	siteID := rawString(item.ID)

	return ObservedAssignment{
		Title:        title,
		CourseName:   course.Name,
		CourseID:     course.ID,
		DueDate:      due,
		Description:  CleanDescription(item.Description),
		Status:       status,
		Type:         typ,
		ActionSignal: signal,
		SiteID:       siteID,
		Link:         e.buildLink(typ, course.ID, siteID, rawString(item.URL)),
	}, true
}

// buildLink constructs the durable deep link. Exams, quizzes, and
// reflections route through the exam info page; everything else through
// the assignment page. The session segment is never embedded because it
// expires.
func (e *Extractor) buildLink(typ AssignmentType, cid, siteID, urlSuffix string) string {
	switch typ {
	case TypeExam, TypeQuiz:
		ref := siteID
		if ref == "" {
			ref = urlSuffix
		}
		if ref == "" {
			return ""
		}
		return e.staticBase + "/cid-" + cid + "/student/exam/info/id-" + ref
	default:
		ref := urlSuffix
		if ref == "" {
			ref = siteID
		}
		if ref == "" {
			return ""
		}
		return e.staticBase + "/cid-" + cid + "/student/assignment/" + ref
	}
}

// StripSessionSegment rewrites a session-scoped URL to its durable form.
func (e *Extractor) StripSessionSegment(url string) string {
	return e.sessionSeg.ReplaceAllString(url, e.staticBase)
}

// scrapeExamsView lists the exam-specific view, which catches exams the
// gradebook payload omits for courses with thin payloads.
func (e *Extractor) scrapeExamsView(course Course) ([]ObservedAssignment, error) {
	if err := e.sess.Navigate("/cid-"+course.ID+"/student/exams", course.Name+" exams"); err != nil {
		return nil, err
	}
	links, err := e.sess.Page().FindLinks("student/exam/info")
	if err != nil {
		return nil, fmt.Errorf("scan exam links: %w", err)
	}

	var assignments []ObservedAssignment
	seen := map[string]bool{}
	for _, link := range links {
		title := CleanTitle(link.Text)
		if title == "" || seen[title] {
			continue
		}
		seen[title] = true

		siteID := ""
		if m := examIDPattern.FindStringSubmatch(link.Href); m != nil {
			siteID = m[1]
		}
		typ := InferType("exam", title)
		assignments = append(assignments, ObservedAssignment{
			Title:      title,
			CourseName: course.Name,
			CourseID:   course.ID,
			Status:     InferStatus("", false, ""),
			Type:       typ,
			SiteID:     siteID,
			Link:       e.StripSessionSegment(link.Href),
		})
	}
	return assignments, nil
}

// rawPresent reports whether a loosely typed JSON field carries a value:
// a number (including zero, a valid grade), a non-empty string, or an
// excused marker.
func rawPresent(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed != "" && trimmed != "null" && trimmed != `""`
}

// rawString renders a loosely typed JSON field (string or number) as a
// plain string.
func rawString(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return trimmed
}
